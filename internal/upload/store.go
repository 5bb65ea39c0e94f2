package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lgulliver/tusgate/internal/storage"
	"github.com/rs/zerolog/log"
)

// Store pairs each session blob with its record.
// Blobs live at the id itself; records live in the configured RecordStore.
type Store struct {
	blobs   storage.BlobStorage
	records RecordStore
}

// NewStore creates a session store
func NewStore(blobs storage.BlobStorage, records RecordStore) *Store {
	return &Store{blobs: blobs, records: records}
}

// Create allocates an empty blob for id
func (s *Store) Create(ctx context.Context, id string) error {
	if err := s.blobs.Create(ctx, id); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
		}
		return err
	}
	return nil
}

// AppendBytes appends data to the blob of id and returns the new blob length
func (s *Store) AppendBytes(ctx context.Context, id string, data []byte) (int64, error) {
	length, err := s.blobs.Append(ctx, id, data)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return 0, err
	}
	return length, nil
}

// BlobLength returns the current byte length of the blob of id
func (s *Store) BlobLength(ctx context.Context, id string) (int64, error) {
	length, err := s.blobs.GetSize(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return 0, err
	}
	return length, nil
}

// BlobExists reports whether a blob is stored for id
func (s *Store) BlobExists(ctx context.Context, id string) (bool, error) {
	return s.blobs.Exists(ctx, id)
}

// Rollback cuts the blob of id back to length, discarding uncommitted bytes
func (s *Store) Rollback(ctx context.Context, id string, length int64) error {
	return s.blobs.Truncate(ctx, id, length)
}

// ReadBlob opens the blob of id for reading
func (s *Store) ReadBlob(ctx context.Context, id string) (io.ReadCloser, error) {
	reader, err := s.blobs.Retrieve(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return reader, nil
}

// ReadRecord loads the record of id
func (s *Store) ReadRecord(ctx context.Context, id string) (RecordLookup, error) {
	return s.records.ReadRecord(ctx, id)
}

// WriteRecord replaces the record of session.ID
func (s *Store) WriteRecord(ctx context.Context, session *Session) error {
	return s.records.WriteRecord(ctx, session)
}

// Delete removes the blob then the record of id. Missing parts are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.blobs.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete upload blob: %w", err)
	}
	if err := s.records.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}

	log.Debug().Str("upload_id", id).Msg("upload removed from store")
	return nil
}

// ListIDs enumerates stored blobs whose name is a session id
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	paths, err := s.blobs.List(ctx, "")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(paths))
	for _, path := range paths {
		if IsValidID(path) {
			ids = append(ids, path)
		}
	}
	return ids, nil
}

// BlobPath returns the storage location of the blob of id
func (s *Store) BlobPath(id string) string {
	return s.blobs.Locate(id)
}
