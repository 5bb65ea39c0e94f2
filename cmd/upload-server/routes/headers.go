package routes

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/tusgate/internal/upload"
)

const (
	TusVersion    = "1.0.0"
	TusExtensions = "creation,creation-defer-length,creation-with-upload,expiration,termination"

	offsetContentType = "application/offset+octet-stream"
)

// SupportedVersions lists the protocol versions the server speaks, latest first
var SupportedVersions = []string{TusVersion}

// parseMetadata decodes an Upload-Metadata header: comma separated pairs of
// a key and an optional base64 value, separated by a space.
func parseMetadata(header string) (map[string]string, error) {
	metadata := map[string]string{}
	if strings.TrimSpace(header) == "" {
		return metadata, nil
	}

	for _, pair := range strings.Split(header, ",") {
		fields := strings.Fields(pair)
		switch len(fields) {
		case 0:
			continue
		case 1:
			metadata[fields[0]] = ""
		case 2:
			value, err := base64.StdEncoding.DecodeString(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w: value of %q is not base64", upload.ErrInvalidMetadata, fields[0])
			}
			metadata[fields[0]] = string(value)
		default:
			return nil, fmt.Errorf("%w: malformed pair %q", upload.ErrInvalidMetadata, strings.TrimSpace(pair))
		}
	}

	return metadata, nil
}

// encodeMetadata renders the name and type of an upload for HEAD responses.
// Both are required; name and type are accepted in place of filename and filetype.
func encodeMetadata(metadata map[string]string) (string, error) {
	filename := firstValue(metadata, "filename", "name")
	if filename == "" {
		return "", fmt.Errorf("%w: missing required field filename", upload.ErrInvalidMetadata)
	}
	filetype := firstValue(metadata, "filetype", "type")
	if filetype == "" {
		return "", fmt.Errorf("%w: missing required field filetype", upload.ErrInvalidMetadata)
	}

	return fmt.Sprintf("filename %s, filetype %s",
		base64.StdEncoding.EncodeToString([]byte(filename)),
		base64.StdEncoding.EncodeToString([]byte(filetype))), nil
}

func firstValue(metadata map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := metadata[key]; value != "" {
			return value
		}
	}
	return ""
}

// parseLength reads a non-negative integer header; ok is false when it is absent
func parseLength(c *gin.Context, name string) (value int64, ok bool, err error) {
	raw := c.GetHeader(name)
	if raw == "" {
		return 0, false, nil
	}

	value, err = strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, false, fmt.Errorf("%w: invalid %s %q", upload.ErrInvalidRequest, name, raw)
	}
	return value, true, nil
}

// location builds the absolute URL of an upload, honouring proxy headers
func location(c *gin.Context, base, id string) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := c.Request.Host
	if forwarded := c.GetHeader("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}

	return fmt.Sprintf("%s://%s%s/%s", scheme, host, strings.TrimSuffix(base, "/"), id)
}

func setOffsetHeaders(c *gin.Context, session *upload.Session) {
	c.Header("Upload-Offset", strconv.FormatInt(session.Offset, 10))
	if session.ExpiresAt != nil {
		c.Header("Upload-Expires", formatExpiry(*session.ExpiresAt))
	}
}

func formatExpiry(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
