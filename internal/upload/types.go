package upload

import (
	"context"
	"maps"
	"time"
)

// State is the lifecycle position of an upload session
type State int

const (
	StateInitiated State = iota
	StateReceiving
	StateCompleted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the persisted record of one resumable upload
type Session struct {
	ID            string            `json:"id"`
	Size          *int64            `json:"size"`
	Offset        int64             `json:"offset"`
	ChunkCount    int               `json:"upload_part"`
	LastChunkSize int64             `json:"upload_chunk_size"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     *time.Time        `json:"expires"`
	DeferLength   bool              `json:"defer_length"`
	Metadata      map[string]string `json:"metadata"`
	LastError     string            `json:"error,omitempty"`
	Notified      bool              `json:"notified"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsComplete reports whether the size is known and fully received
func (s *Session) IsComplete() bool {
	return s.Size != nil && s.Offset == *s.Size
}

// State derives the lifecycle state from the stored counters
func (s *Session) State() State {
	switch {
	case s.IsComplete():
		return StateCompleted
	case s.Offset > 0 || s.ChunkCount > 0:
		return StateReceiving
	default:
		return StateInitiated
	}
}

// Clone returns a deep copy so callers can't mutate a locked session
func (s *Session) Clone() *Session {
	c := *s
	if s.Size != nil {
		size := *s.Size
		c.Size = &size
	}
	if s.ExpiresAt != nil {
		expires := *s.ExpiresAt
		c.ExpiresAt = &expires
	}
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

// RecordState is the outcome of reading a session record
type RecordState int

const (
	RecordFound RecordState = iota
	RecordAbsent
	RecordCorrupt
)

func (r RecordState) String() string {
	switch r {
	case RecordFound:
		return "found"
	case RecordAbsent:
		return "absent"
	case RecordCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// RecordLookup carries the session when State is RecordFound
type RecordLookup struct {
	Session *Session
	State   RecordState
}

// Completion describes a finished upload handed to the completion hook
type Completion struct {
	ID          string            `json:"id"`
	BlobPath    string            `json:"blob_path"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata"`
	CompletedAt time.Time         `json:"completed_at"`
}

// CompletionHook is notified once per session when its last byte is committed
type CompletionHook interface {
	OnComplete(ctx context.Context, c Completion) error
}

// CompletionHookFunc adapts a function to CompletionHook
type CompletionHookFunc func(ctx context.Context, c Completion) error

func (f CompletionHookFunc) OnComplete(ctx context.Context, c Completion) error {
	return f(ctx, c)
}

// CreateRequest holds the parameters of a new session
type CreateRequest struct {
	Metadata    map[string]string
	Size        *int64
	DeferLength bool
}

// UploadRequest holds the parameters of one body-carrying request
type UploadRequest struct {
	ID string
	// ClaimedOffset is the offset the client believes the session is at
	ClaimedOffset int64
	// ContentLength is the announced body length, or -1 when unknown
	ContentLength int64
	// Length resolves a deferred size when set
	Length *int64
	Source FragmentSource
	// Creation marks the body of a creation request
	Creation bool
}
