package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when no content exists at a path
	ErrNotFound = errors.New("file not found")

	// ErrAlreadyExists is returned by Create when the path is taken
	ErrAlreadyExists = errors.New("file already exists")
)

// BlobStorage defines the interface for upload blob storage
type BlobStorage interface {
	// Store saves content at the given path, replacing anything already there
	Store(ctx context.Context, path string, content io.Reader, contentType string) error

	// Create allocates an empty blob, failing with ErrAlreadyExists if one is present
	Create(ctx context.Context, path string) error

	// Append writes data to the end of an existing blob and returns the new length.
	// It never creates a missing blob.
	Append(ctx context.Context, path string, data []byte) (int64, error)

	// Truncate shrinks a blob to size. Only used to discard bytes that were
	// never committed to a session record.
	Truncate(ctx context.Context, path string, size int64) error

	// Retrieve gets content from the given path
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes content at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if content exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// GetSize returns the size of content at the given path
	GetSize(ctx context.Context, path string) (int64, error)

	// List returns paths matching the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Locate returns the backend-native location of a path (a filesystem path for local storage)
	Locate(path string) string
}
