package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lgulliver/tusgate/internal/storage"
)

// RecordSuffix is appended to the id to name the sidecar record
const RecordSuffix = ".info"

// SidecarRecords keeps each record as a JSON file next to its blob
type SidecarRecords struct {
	blobs storage.BlobStorage
}

// NewSidecarRecords creates a record store on top of blob storage
func NewSidecarRecords(blobs storage.BlobStorage) *SidecarRecords {
	return &SidecarRecords{blobs: blobs}
}

func (r *SidecarRecords) ReadRecord(ctx context.Context, id string) (RecordLookup, error) {
	reader, err := r.blobs.Retrieve(ctx, id+RecordSuffix)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return RecordLookup{State: RecordAbsent}, nil
		}
		return RecordLookup{}, fmt.Errorf("failed to open upload record: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return RecordLookup{}, fmt.Errorf("failed to read upload record: %w", err)
	}

	return decodeRecord(id, data), nil
}

func (r *SidecarRecords) WriteRecord(ctx context.Context, session *Session) error {
	data, err := encodeRecord(session)
	if err != nil {
		return fmt.Errorf("failed to encode upload record: %w", err)
	}

	if err := r.blobs.Store(ctx, session.ID+RecordSuffix, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("failed to write upload record: %w", err)
	}
	return nil
}

func (r *SidecarRecords) DeleteRecord(ctx context.Context, id string) error {
	return r.blobs.Delete(ctx, id+RecordSuffix)
}
