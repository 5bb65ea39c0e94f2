package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Options configures a Manager
type Options struct {
	// MaxSize is the global cap on any upload's length
	MaxSize int64
	// Retention is added to the time of the first chunk to get the expiry
	Retention time.Duration
	// LockTimeout bounds the wait for a busy upload; zero waits for the request context
	LockTimeout time.Duration
	// HookTimeout bounds the completion hook
	HookTimeout time.Duration
}

// Manager applies the upload state machine on top of a Store
type Manager struct {
	store  *Store
	locker Locker
	hook   CompletionHook
	opts   Options
	now    func() time.Time

	// settling tracks completions delivered in the background
	settling sync.WaitGroup
}

// NewManager creates a manager. A nil locker uses an in-process one; a nil hook disables notification.
func NewManager(store *Store, locker Locker, hook CompletionHook, opts Options) *Manager {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if opts.HookTimeout <= 0 {
		opts.HookTimeout = 30 * time.Second
	}
	return &Manager{
		store:  store,
		locker: locker,
		hook:   hook,
		opts:   opts,
		now:    time.Now,
	}
}

// MaxSize returns the global upload size cap
func (m *Manager) MaxSize() int64 {
	return m.opts.MaxSize
}

func (m *Manager) lock(ctx context.Context, id string) (func(), error) {
	lockCtx := ctx
	if m.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, m.opts.LockTimeout)
		defer cancel()
	}

	release, err := m.locker.Lock(lockCtx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrClientDisconnected, ctx.Err())
		}
		if errors.Is(err, ErrLocked) {
			log.Warn().Str("upload_id", id).Dur("timeout", m.opts.LockTimeout).Msg("timed out waiting for upload lock")
		}
		return nil, err
	}
	return release, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	lookup, err := m.store.ReadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if lookup.State != RecordFound {
		log.Debug().Str("upload_id", id).Stringer("record", lookup.State).Msg("upload record unavailable")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return lookup.Session, nil
}

// Create allocates a new session with an empty blob.
// A zero declared size completes the session, and notifies, before returning.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if req.Size == nil && !req.DeferLength {
		return nil, fmt.Errorf("%w: upload length or deferred length required", ErrInvalidRequest)
	}
	if req.Size != nil {
		if *req.Size < 0 {
			return nil, fmt.Errorf("%w: negative upload length %d", ErrInvalidRequest, *req.Size)
		}
		if *req.Size > m.opts.MaxSize {
			return nil, exceeded(LimitGlobal, 0, *req.Size, m.opts.MaxSize)
		}
	}

	now := m.now().UTC()
	session := &Session{
		ID:          NewID(),
		DeferLength: req.Size == nil,
		Metadata:    maps.Clone(req.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if session.Metadata == nil {
		session.Metadata = map[string]string{}
	}
	if req.Size != nil {
		size := *req.Size
		session.Size = &size
	}

	storeCtx := context.WithoutCancel(ctx)
	if err := m.store.Create(storeCtx, session.ID); err != nil {
		return nil, fmt.Errorf("failed to create upload blob: %w", err)
	}
	if err := m.store.WriteRecord(storeCtx, session); err != nil {
		if delErr := m.store.Delete(storeCtx, session.ID); delErr != nil {
			log.Error().Err(delErr).Str("upload_id", session.ID).Msg("failed to remove blob of failed upload")
		}
		return nil, fmt.Errorf("failed to write upload record: %w", err)
	}

	log.Info().
		Str("upload_id", session.ID).
		Bool("defer_length", session.DeferLength).
		Interface("size", session.Size).
		Msg("upload created")

	if session.IsComplete() {
		release, err := m.lock(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		defer release()

		if err := m.notifyLocked(ctx, session); err != nil {
			return nil, err
		}
	}

	return session.Clone(), nil
}

// Get returns the session of id. A missing blob, record or an unreadable record is ErrNotFound.
// A completed session that was never notified is settled in the background.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	session, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.BlobLength(ctx, id); err != nil {
		return nil, err
	}

	if session.IsComplete() && !session.Notified {
		m.settling.Add(1)
		go func() {
			defer m.settling.Done()
			m.settle(context.WithoutCancel(ctx), id)
		}()
	}
	return session, nil
}

// settle delivers a completion whose notification was never persisted
func (m *Manager) settle(ctx context.Context, id string) {
	release, ok, err := m.locker.TryLock(ctx, id)
	if err != nil || !ok {
		return
	}
	defer release()

	session, err := m.load(ctx, id)
	if err != nil {
		return
	}
	if err := m.finishLocked(ctx, session); err != nil {
		log.Error().Err(err).Str("upload_id", id).Msg("failed to settle completed upload")
	}
}

// ResolveDeferredSize sets the length of an upload created without one
func (m *Manager) ResolveDeferredSize(ctx context.Context, id string, size int64) (*Session, error) {
	release, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.resolveLocked(ctx, session, size); err != nil {
		return nil, err
	}
	if err := m.finishLocked(ctx, session); err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// checkLength validates size as the final length of a deferred session
func (m *Manager) checkLength(session *Session, size int64) error {
	if !session.DeferLength || session.Size != nil {
		return fmt.Errorf("%w: upload length already known", ErrInvalidState)
	}
	if size < session.Offset {
		return fmt.Errorf("%w: upload length %d is below offset %d", ErrInvalidRequest, size, session.Offset)
	}
	if size > m.opts.MaxSize {
		return exceeded(LimitGlobal, 0, size, m.opts.MaxSize)
	}
	return nil
}

func (m *Manager) resolveLocked(ctx context.Context, session *Session, size int64) error {
	if err := m.checkLength(session, size); err != nil {
		return err
	}

	updated := session.Clone()
	updated.Size = &size
	updated.UpdatedAt = m.now().UTC()

	if err := m.store.WriteRecord(context.WithoutCancel(ctx), updated); err != nil {
		return fmt.Errorf("failed to write upload record: %w", err)
	}
	*session = *updated

	log.Info().Str("upload_id", session.ID).Int64("size", size).Msg("deferred upload length resolved")
	return nil
}

// AppendChunk applies one chunk to id, asserting the session is at claimedOffset
func (m *Manager) AppendChunk(ctx context.Context, id string, data []byte, claimedOffset int64) (*Session, error) {
	release, err := m.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.applyLocked(ctx, session, data, claimedOffset); err != nil {
		return nil, err
	}
	if err := m.finishLocked(ctx, session); err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// Upload ingests one request body into id while holding its lock.
// The returned session reflects every committed fragment, also when err is set.
func (m *Manager) Upload(ctx context.Context, req UploadRequest) (*Session, error) {
	release, err := m.lock(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	session, err := m.load(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if err := m.finishLocked(ctx, session); err != nil {
		return nil, err
	}

	if req.ClaimedOffset != session.Offset {
		return nil, &OffsetConflictError{Claimed: req.ClaimedOffset, Current: session.Offset}
	}

	// a length resolved here is persisted by the first committed fragment,
	// or after ingestion when the body is empty
	resolving := false
	if req.Length != nil {
		switch {
		case session.Size == nil:
			if err := m.checkLength(session, *req.Length); err != nil {
				return nil, err
			}
			size := *req.Length
			session.Size = &size
			resolving = true
		case *session.Size != *req.Length:
			return nil, fmt.Errorf("%w: upload length is %d, not %d", ErrInvalidState, *session.Size, *req.Length)
		}
	}

	if req.ContentLength > 0 {
		if session.Size != nil && session.Offset+req.ContentLength > *session.Size {
			return nil, exceeded(LimitDeclared, session.Offset, req.ContentLength, *session.Size)
		}
		if session.Offset+req.ContentLength > m.opts.MaxSize {
			return nil, exceeded(LimitGlobal, session.Offset, req.ContentLength, m.opts.MaxSize)
		}
	}

	src := req.Source
	if src == nil {
		src = NewReaderSource(bytes.NewReader(nil), 1)
	}

	startOffset := session.Offset
	startChunks := session.ChunkCount
	lastError := session.LastError
	result, ingestErr := Ingest(ctx, src, req.Creation, func(data []byte) error {
		return m.applyLocked(ctx, session, data, session.Offset)
	})

	if resolving && session.ChunkCount == startChunks {
		if ingestErr != nil {
			m.unresolve(ctx, session, lastError)
		} else {
			size := *session.Size
			session.Size = nil
			if err := m.resolveLocked(ctx, session, size); err != nil {
				return nil, err
			}
		}
	}

	if err := m.finishLocked(ctx, session); err != nil && ingestErr == nil {
		ingestErr = err
	}

	event := log.Debug()
	if ingestErr != nil {
		event = log.Warn().Err(ingestErr)
	}
	event.
		Str("upload_id", session.ID).
		Int64("start_offset", startOffset).
		Int64("offset", session.Offset).
		Int("fragments", result.Fragments).
		Int64("bytes", result.Bytes).
		Msg("upload request ingested")

	return session.Clone(), ingestErr
}

// applyLocked runs the checks and the commit of one chunk. Rejected chunks change nothing.
func (m *Manager) applyLocked(ctx context.Context, session *Session, data []byte, claimedOffset int64) error {
	length := int64(len(data))

	if claimedOffset != session.Offset {
		return &OffsetConflictError{Claimed: claimedOffset, Current: session.Offset}
	}
	if session.Size != nil && session.Offset+length > *session.Size {
		return exceeded(LimitDeclared, session.Offset, length, *session.Size)
	}
	if session.Offset+length > m.opts.MaxSize {
		return exceeded(LimitGlobal, session.Offset, length, m.opts.MaxSize)
	}

	// the commit must not be torn by a client going away
	storeCtx := context.WithoutCancel(ctx)

	if err := m.repairLocked(storeCtx, session); err != nil {
		return err
	}

	newLength, err := m.store.AppendBytes(storeCtx, session.ID, data)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		m.recordFailure(storeCtx, session, err)
		return fmt.Errorf("failed to append chunk: %w", err)
	}
	if newLength != session.Offset+length {
		err := fmt.Errorf("blob length %d after append, expected %d", newLength, session.Offset+length)
		m.rollback(storeCtx, session)
		m.recordFailure(storeCtx, session, err)
		return err
	}

	now := m.now().UTC()
	updated := session.Clone()
	updated.Offset += length
	updated.ChunkCount++
	updated.LastChunkSize = length
	updated.UpdatedAt = now
	if updated.ExpiresAt == nil {
		expires := now.Add(m.opts.Retention)
		updated.ExpiresAt = &expires
	}

	if err := m.store.WriteRecord(storeCtx, updated); err != nil {
		m.rollback(storeCtx, session)
		m.recordFailure(storeCtx, session, err)
		return fmt.Errorf("failed to commit chunk: %w", err)
	}
	*session = *updated

	log.Debug().
		Str("upload_id", session.ID).
		Int64("chunk_size", length).
		Int64("offset", session.Offset).
		Int("chunk_count", session.ChunkCount).
		Msg("chunk appended")

	return nil
}

// unresolve drops a length that no fragment committed. A failure recorded
// meanwhile was written with that length, so the record is rewritten without it.
func (m *Manager) unresolve(ctx context.Context, session *Session, lastError string) {
	session.Size = nil
	if session.LastError == lastError {
		return
	}
	if err := m.store.WriteRecord(context.WithoutCancel(ctx), session); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID).Msg("failed to clear unresolved upload length")
	}
}

// repairLocked trims bytes a failed commit left past the recorded offset
func (m *Manager) repairLocked(ctx context.Context, session *Session) error {
	length, err := m.store.BlobLength(ctx, session.ID)
	if err != nil {
		return err
	}

	switch {
	case length == session.Offset:
		return nil
	case length > session.Offset:
		log.Warn().
			Str("upload_id", session.ID).
			Int64("blob_length", length).
			Int64("offset", session.Offset).
			Msg("discarding uncommitted bytes")
		if err := m.store.Rollback(ctx, session.ID, session.Offset); err != nil {
			return fmt.Errorf("failed to discard uncommitted bytes: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("upload blob %s is %d bytes, below committed offset %d", session.ID, length, session.Offset)
	}
}

func (m *Manager) rollback(ctx context.Context, session *Session) {
	if err := m.store.Rollback(ctx, session.ID, session.Offset); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID).Int64("offset", session.Offset).
			Msg("failed to roll back uncommitted bytes")
	}
}

// recordFailure stores err as the session's last error, best effort
func (m *Manager) recordFailure(ctx context.Context, session *Session, cause error) {
	session.LastError = cause.Error()
	session.UpdatedAt = m.now().UTC()

	if err := m.store.WriteRecord(ctx, session); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID).Str("cause", cause.Error()).
			Msg("failed to record upload error")
	}
}

// finishLocked notifies a complete session that hasn't been notified yet
func (m *Manager) finishLocked(ctx context.Context, session *Session) error {
	if !session.IsComplete() || session.Notified {
		return nil
	}
	return m.notifyLocked(ctx, session)
}

// notifyLocked persists the notified flag and then runs the completion hook.
// Hook failures are recorded on the session and do not undo completion.
func (m *Manager) notifyLocked(ctx context.Context, session *Session) error {
	storeCtx := context.WithoutCancel(ctx)
	now := m.now().UTC()

	updated := session.Clone()
	updated.Notified = true
	updated.UpdatedAt = now

	if err := m.store.WriteRecord(storeCtx, updated); err != nil {
		return fmt.Errorf("failed to mark upload notified: %w", err)
	}
	*session = *updated

	log.Info().
		Str("upload_id", session.ID).
		Int64("size", session.Offset).
		Int("chunk_count", session.ChunkCount).
		Msg("upload completed")

	if m.hook == nil {
		return nil
	}

	completion := Completion{
		ID:          session.ID,
		BlobPath:    m.store.BlobPath(session.ID),
		Size:        session.Offset,
		Metadata:    maps.Clone(session.Metadata),
		CompletedAt: now,
	}

	hookCtx, cancel := context.WithTimeout(storeCtx, m.opts.HookTimeout)
	defer cancel()

	if err := m.hook.OnComplete(hookCtx, completion); err != nil {
		log.Error().Err(err).Str("upload_id", session.ID).Msg("completion hook failed")
		m.recordFailure(storeCtx, session, fmt.Errorf("completion hook: %w", err))
	}
	return nil
}

// Terminate deletes the blob and record of id
func (m *Manager) Terminate(ctx context.Context, id string) error {
	release, err := m.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	lookup, err := m.store.ReadRecord(ctx, id)
	if err != nil {
		return err
	}

	if lookup.State != RecordFound {
		exists, err := m.store.BlobExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists && lookup.State == RecordAbsent {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	if err := m.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		return err
	}

	log.Info().Str("upload_id", id).Stringer("record", lookup.State).Msg("upload terminated")

	if lookup.State != RecordFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
