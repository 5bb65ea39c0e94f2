package upload

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("upload not found")
	ErrAlreadyExists      = errors.New("upload already exists")
	ErrOffsetConflict     = errors.New("upload offset conflict")
	ErrSizeExceeded       = errors.New("upload size exceeded")
	ErrInvalidMetadata    = errors.New("invalid upload metadata")
	ErrInvalidRequest     = errors.New("invalid upload request")
	ErrInvalidState       = errors.New("invalid upload state")
	ErrClientDisconnected = errors.New("client disconnected")
	ErrLocked             = errors.New("upload is locked")
)

// SizeLimit names the limit a chunk ran into
type SizeLimit int

const (
	// LimitDeclared is the length the client declared for the upload
	LimitDeclared SizeLimit = iota
	// LimitGlobal is the server-wide maximum
	LimitGlobal
)

func (l SizeLimit) String() string {
	if l == LimitGlobal {
		return "global cap"
	}
	return "declared length"
}

// SizeExceededError is returned when a chunk would push the offset past a limit
type SizeExceededError struct {
	Limit   SizeLimit
	Offset  int64
	Length  int64
	Allowed int64
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("upload size exceeded: %d + %d bytes is over the %s of %d", e.Offset, e.Length, e.Limit, e.Allowed)
}

// Is lets errors.Is match ErrSizeExceeded
func (e *SizeExceededError) Is(target error) bool {
	return target == ErrSizeExceeded
}

// OffsetConflictError carries both sides of a rejected offset assertion
type OffsetConflictError struct {
	Claimed int64
	Current int64
}

func (e *OffsetConflictError) Error() string {
	return fmt.Sprintf("upload offset conflict: claimed %d, current %d", e.Claimed, e.Current)
}

// Is lets errors.Is match ErrOffsetConflict
func (e *OffsetConflictError) Is(target error) bool {
	return target == ErrOffsetConflict
}

func exceeded(limit SizeLimit, offset, length, allowed int64) error {
	return &SizeExceededError{Limit: limit, Offset: offset, Length: length, Allowed: allowed}
}
