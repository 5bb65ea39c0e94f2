// Package notify provides completion hooks for finished uploads
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/lgulliver/tusgate/internal/upload"
	"github.com/lgulliver/tusgate/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LogHook writes every completion to the log
type LogHook struct{}

func (LogHook) OnComplete(ctx context.Context, c upload.Completion) error {
	log.Info().
		Str("upload_id", c.ID).
		Str("blob_path", c.BlobPath).
		Int64("size", c.Size).
		Interface("metadata", c.Metadata).
		Msg("upload ready")
	return nil
}

// Publisher sends a JSON encoded value on a channel
type Publisher interface {
	Publish(ctx context.Context, channel string, value interface{}) error
}

// RedisPublisher announces completions on a pub/sub channel
type RedisPublisher struct {
	publisher Publisher
	channel   string
}

// NewRedisPublisher creates a hook publishing on channel
func NewRedisPublisher(publisher Publisher, channel string) *RedisPublisher {
	return &RedisPublisher{publisher: publisher, channel: channel}
}

func (p *RedisPublisher) OnComplete(ctx context.Context, c upload.Completion) error {
	event := types.CompletionEvent{
		UploadID:    c.ID,
		BlobPath:    c.BlobPath,
		Size:        c.Size,
		Metadata:    c.Metadata,
		CompletedAt: c.CompletedAt,
	}

	if err := p.publisher.Publish(ctx, p.channel, event); err != nil {
		return fmt.Errorf("failed to publish completion: %w", err)
	}
	return nil
}

// DBRecorder keeps a ledger of completed uploads
type DBRecorder struct {
	db *gorm.DB
}

// NewDBRecorder creates a ledger hook
func NewDBRecorder(db *gorm.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

func (r *DBRecorder) OnComplete(ctx context.Context, c upload.Completion) error {
	entry := types.CompletedUpload{
		UploadID:    c.ID,
		BlobPath:    c.BlobPath,
		Size:        c.Size,
		Metadata:    types.FromStrings(c.Metadata),
		CompletedAt: c.CompletedAt,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "upload_id"}}, DoNothing: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to record completed upload: %w", err)
	}
	return nil
}

// Multi runs every hook and joins their errors
type Multi []upload.CompletionHook

func (m Multi) OnComplete(ctx context.Context, c upload.Completion) error {
	var errs []error
	for _, hook := range m {
		if err := hook.OnComplete(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
