package upload

import (
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

// IDLength is the number of hex characters in a session id
const IDLength = 32

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NewID returns a random 32 character lowercase hex id
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// IsValidID reports whether id has the session id format
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}
