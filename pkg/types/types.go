package types

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a custom type that can handle JSON serialization for both PostgreSQL and SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for GORM
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for GORM
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// FromStrings converts string metadata into a JSONMap
func FromStrings(m map[string]string) JSONMap {
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UploadSessionRecord is the SQL row of an upload session
type UploadSessionRecord struct {
	ID            string     `json:"id" gorm:"primaryKey;size:32"`
	Size          *int64     `json:"size"`
	Offset        int64      `json:"offset" gorm:"column:upload_offset;not null;default:0"`
	ChunkCount    int        `json:"upload_part" gorm:"not null;default:0"`
	LastChunkSize int64      `json:"upload_chunk_size" gorm:"not null;default:0"`
	DeferLength   bool       `json:"defer_length" gorm:"default:false"`
	Metadata      string     `json:"metadata" gorm:"type:text"`
	LastError     string     `json:"error"`
	Notified      bool       `json:"notified" gorm:"default:false"`
	ExpiresAt     *time.Time `json:"expires" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName overrides the pluralized default
func (UploadSessionRecord) TableName() string {
	return "upload_sessions"
}

// CompletedUpload is the ledger entry written when an upload finishes
type CompletedUpload struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey"`
	UploadID    string    `json:"upload_id" gorm:"uniqueIndex;size:32;not null"`
	BlobPath    string    `json:"blob_path" gorm:"not null"`
	Size        int64     `json:"size"`
	Metadata    JSONMap   `json:"metadata" gorm:"type:text"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the ledger entry
func (c *CompletedUpload) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Principal identifies the caller accepted by the authorizer
type Principal struct {
	Subject string `json:"subject"`
	Method  string `json:"method"` // jwt, api_key, anonymous
}

// CompletionEvent is the message published for a finished upload
type CompletionEvent struct {
	UploadID    string            `json:"upload_id"`
	BlobPath    string            `json:"blob_path"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata"`
	CompletedAt time.Time         `json:"completed_at"`
}

// ErrorResponse is the JSON body of a failed request
type ErrorResponse struct {
	Error string `json:"error"`
}
