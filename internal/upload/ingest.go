package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultFragmentSize bounds a single fragment read from a request body
const DefaultFragmentSize = 4 << 20

// FragmentSource yields the byte fragments of one request body.
// Next returns io.EOF once the body is exhausted. The returned slice is
// only valid until the following call.
type FragmentSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ReaderSource splits an io.Reader into fragments of at most size bytes
type ReaderSource struct {
	r       io.Reader
	buf     []byte
	pending error
}

// NewReaderSource wraps r; a non-positive size uses DefaultFragmentSize
func NewReaderSource(r io.Reader, size int) *ReaderSource {
	if size <= 0 {
		size = DefaultFragmentSize
	}
	return &ReaderSource{r: r, buf: make([]byte, size)}
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pending != nil {
		return nil, s.pending
	}

	n, err := s.r.Read(s.buf)
	if err != nil {
		s.pending = err
	}
	if n > 0 {
		return s.buf[:n], nil
	}
	if err == nil {
		return nil, nil
	}
	return nil, err
}

// IngestResult summarizes one ingestion run
type IngestResult struct {
	Fragments int
	Bytes     int64
}

// Ingest pulls fragments from src and hands each non-empty one to apply.
// The first apply error stops ingestion and is returned as is.
// A failing source or a cancelled ctx ends ingestion with ErrClientDisconnected.
// With creation set and an empty body, apply is called once with no data.
func Ingest(ctx context.Context, src FragmentSource, creation bool, apply func(data []byte) error) (IngestResult, error) {
	var result IngestResult

	for {
		data, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrClientDisconnected, err)
		}
		if len(data) == 0 {
			continue
		}

		if err := apply(data); err != nil {
			return result, err
		}
		result.Fragments++
		result.Bytes += int64(len(data))
	}

	if creation && result.Fragments == 0 {
		if err := apply(nil); err != nil {
			return result, err
		}
	}

	return result, nil
}
