package upload

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Len(t, id, IDLength)
		assert.True(t, IsValidID(id))
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"0123456789abcdef0123456789abcdef", true},
		{"0123456789ABCDEF0123456789ABCDEF", false},
		{"0123456789abcdef0123456789abcde", false},
		{"0123456789abcdef0123456789abcdef0", false},
		{"0123456789abcdef0123456789abcdeg", false},
		{"0123456789abcdef0123456789abcdef.info", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidID(tt.id), tt.id)
	}
}

func TestSession_State(t *testing.T) {
	tests := []struct {
		name     string
		session  Session
		state    State
		complete bool
	}{
		{"fresh", Session{Size: size(10)}, StateInitiated, false},
		{"fresh deferred", Session{DeferLength: true}, StateInitiated, false},
		{"receiving", Session{Size: size(10), Offset: 4, ChunkCount: 1}, StateReceiving, false},
		{"empty attempt", Session{Size: size(10), ChunkCount: 1}, StateReceiving, false},
		{"deferred with bytes", Session{DeferLength: true, Offset: 10, ChunkCount: 2}, StateReceiving, false},
		{"complete", Session{Size: size(10), Offset: 10, ChunkCount: 2}, StateCompleted, true},
		{"zero length", Session{Size: size(0)}, StateCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.state, tt.session.State())
			assert.Equal(t, tt.complete, tt.session.IsComplete())
		})
	}
}

func TestSession_Clone(t *testing.T) {
	original := sampleSession(NewID())
	clone := original.Clone()

	*clone.Size = 1
	clone.Metadata["filename"] = "changed"
	*clone.ExpiresAt = clone.ExpiresAt.AddDate(1, 0, 0)

	assert.Equal(t, int64(100), *original.Size)
	assert.Equal(t, "a.txt", original.Metadata["filename"])
	assert.Equal(t, 2024, original.ExpiresAt.Year())
}

func TestErrors(t *testing.T) {
	sizeErr := exceeded(LimitGlobal, 10, 5, 12)
	assert.True(t, errors.Is(sizeErr, ErrSizeExceeded))
	assert.True(t, strings.Contains(sizeErr.Error(), "global cap"))

	var conflict error = &OffsetConflictError{Claimed: 3, Current: 5}
	assert.True(t, errors.Is(conflict, ErrOffsetConflict))
	assert.Contains(t, conflict.Error(), "claimed 3, current 5")
}
