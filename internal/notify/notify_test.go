package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lgulliver/tusgate/internal/upload"
	"github.com/lgulliver/tusgate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, value interface{}) error {
	args := m.Called(ctx, channel, value)
	return args.Error(0)
}

func sampleCompletion() upload.Completion {
	return upload.Completion{
		ID:          "0123456789abcdef0123456789abcdef",
		BlobPath:    "/tmp/files/0123456789abcdef0123456789abcdef",
		Size:        10,
		Metadata:    map[string]string{"filename": "a.txt", "filetype": "text/plain"},
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRedisPublisher(t *testing.T) {
	publisher := new(MockPublisher)
	completion := sampleCompletion()

	publisher.On("Publish", mock.Anything, "uploads.completed", mock.MatchedBy(func(event types.CompletionEvent) bool {
		return event.UploadID == completion.ID && event.Size == 10 && event.Metadata["filename"] == "a.txt"
	})).Return(nil)

	hook := NewRedisPublisher(publisher, "uploads.completed")
	assert.NoError(t, hook.OnComplete(context.Background(), completion))
	publisher.AssertExpectations(t)
}

func TestRedisPublisher_Error(t *testing.T) {
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, "uploads.completed", mock.Anything).Return(errors.New("connection refused"))

	hook := NewRedisPublisher(publisher, "uploads.completed")
	err := hook.OnComplete(context.Background(), sampleCompletion())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDBRecorder(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&types.CompletedUpload{}))

	recorder := NewDBRecorder(db)
	completion := sampleCompletion()
	ctx := context.Background()

	require.NoError(t, recorder.OnComplete(ctx, completion))
	// a repeated notification keeps a single ledger row
	require.NoError(t, recorder.OnComplete(ctx, completion))

	var entries []types.CompletedUpload
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, completion.ID, entries[0].UploadID)
	assert.Equal(t, completion.BlobPath, entries[0].BlobPath)
	assert.Equal(t, int64(10), entries[0].Size)
	assert.Equal(t, "text/plain", entries[0].Metadata["filetype"])
}

func TestMulti(t *testing.T) {
	var calls []string
	hook := func(name string, err error) upload.CompletionHook {
		return upload.CompletionHookFunc(func(ctx context.Context, c upload.Completion) error {
			calls = append(calls, name)
			return err
		})
	}

	multi := Multi{
		hook("log", nil),
		hook("redis", errors.New("redis down")),
		hook("db", nil),
	}

	err := multi.OnComplete(context.Background(), sampleCompletion())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, []string{"log", "redis", "db"}, calls)

	assert.NoError(t, Multi{LogHook{}}.OnComplete(context.Background(), sampleCompletion()))
}
