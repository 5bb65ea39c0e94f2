package common

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lgulliver/tusgate/pkg/config"
	"github.com/lgulliver/tusgate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_SQLite(t *testing.T) {
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "tusgate.db"),
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())

	entry := types.CompletedUpload{
		UploadID:    "0123456789abcdef0123456789abcdef",
		BlobPath:    "/tmp/files/0123456789abcdef0123456789abcdef",
		Size:        42,
		Metadata:    types.JSONMap{"filename": "a.txt"},
		CompletedAt: time.Now(),
	}
	require.NoError(t, db.Create(&entry).Error)

	var stored types.CompletedUpload
	require.NoError(t, db.Where("upload_id = ?", entry.UploadID).First(&stored).Error)
	assert.Equal(t, entry.ID, stored.ID)
	assert.Equal(t, "a.txt", stored.Metadata["filename"])
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}
