package upload

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// RecordStore persists session records keyed by id.
// ReadRecord reports missing and unreadable records through RecordLookup.State;
// the error return is reserved for backend failures.
// A successful WriteRecord must be visible to the next ReadRecord of the same id.
type RecordStore interface {
	ReadRecord(ctx context.Context, id string) (RecordLookup, error)
	WriteRecord(ctx context.Context, session *Session) error
	DeleteRecord(ctx context.Context, id string) error
}

func encodeRecord(session *Session) ([]byte, error) {
	return json.Marshal(session)
}

// decodeRecord turns raw record bytes into a lookup, absorbing corruption
func decodeRecord(id string, data []byte) RecordLookup {
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		log.Warn().Err(err).Str("upload_id", id).Msg("corrupt upload record")
		return RecordLookup{State: RecordCorrupt}
	}
	return checkRecord(id, &session)
}

// checkRecord rejects records that break the session invariants
func checkRecord(id string, session *Session) RecordLookup {
	if session.ID == "" {
		session.ID = id
	}

	switch {
	case session.ID != id:
		log.Warn().Str("upload_id", id).Str("record_id", session.ID).Msg("upload record belongs to another id")
		return RecordLookup{State: RecordCorrupt}
	case session.Offset < 0 || session.ChunkCount < 0:
		log.Warn().Str("upload_id", id).Int64("offset", session.Offset).Msg("upload record has negative counters")
		return RecordLookup{State: RecordCorrupt}
	case session.Size != nil && (*session.Size < 0 || session.Offset > *session.Size):
		log.Warn().Str("upload_id", id).Int64("offset", session.Offset).Int64("size", *session.Size).Msg("upload record offset beyond size")
		return RecordLookup{State: RecordCorrupt}
	}

	if session.Metadata == nil {
		session.Metadata = map[string]string{}
	}
	return RecordLookup{Session: session, State: RecordFound}
}
