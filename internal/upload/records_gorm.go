package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/lgulliver/tusgate/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRecords keeps records in the upload_sessions table
type GormRecords struct {
	db *gorm.DB
}

// NewGormRecords creates a SQL backed record store
func NewGormRecords(db *gorm.DB) *GormRecords {
	return &GormRecords{db: db}
}

func (r *GormRecords) ReadRecord(ctx context.Context, id string) (RecordLookup, error) {
	var row types.UploadSessionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RecordLookup{State: RecordAbsent}, nil
		}
		return RecordLookup{}, fmt.Errorf("failed to query upload record: %w", err)
	}

	session := &Session{
		ID:            row.ID,
		Size:          row.Size,
		Offset:        row.Offset,
		ChunkCount:    row.ChunkCount,
		LastChunkSize: row.LastChunkSize,
		CreatedAt:     row.CreatedAt,
		ExpiresAt:     row.ExpiresAt,
		DeferLength:   row.DeferLength,
		LastError:     row.LastError,
		Notified:      row.Notified,
		UpdatedAt:     row.UpdatedAt,
	}

	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &session.Metadata); err != nil {
			log.Warn().Err(err).Str("upload_id", id).Msg("corrupt upload metadata column")
			return RecordLookup{State: RecordCorrupt}, nil
		}
	}

	return checkRecord(id, session), nil
}

func (r *GormRecords) WriteRecord(ctx context.Context, session *Session) error {
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode upload metadata: %w", err)
	}

	row := types.UploadSessionRecord{
		ID:            session.ID,
		Size:          session.Size,
		Offset:        session.Offset,
		ChunkCount:    session.ChunkCount,
		LastChunkSize: session.LastChunkSize,
		DeferLength:   session.DeferLength,
		Metadata:      string(metadata),
		LastError:     session.LastError,
		Notified:      session.Notified,
		ExpiresAt:     session.ExpiresAt,
		CreatedAt:     session.CreatedAt,
		UpdatedAt:     session.UpdatedAt,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save upload record: %w", err)
	}
	return nil
}

func (r *GormRecords) DeleteRecord(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&types.UploadSessionRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}
	return nil
}
