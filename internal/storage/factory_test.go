package storage

import (
	"context"
	"testing"

	"github.com/lgulliver/tusgate/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageFactory_CreateLocalStorage(t *testing.T) {
	for _, storageType := range []string{"local", ""} {
		t.Run("type="+storageType, func(t *testing.T) {
			factory := NewStorageFactory(&config.StorageConfig{
				Type:      storageType,
				LocalPath: t.TempDir(),
			})

			storage, err := factory.CreateStorage()
			require.NoError(t, err)
			require.NotNil(t, storage)

			ctx := context.Background()
			require.NoError(t, storage.Create(ctx, "factory_blob"))

			size, err := storage.Append(ctx, "factory_blob", []byte("content from factory test"))
			require.NoError(t, err)
			assert.Equal(t, int64(25), size)
		})
	}
}

func TestStorageFactory_UnsupportedType(t *testing.T) {
	for _, storageType := range []string{"s3", "gcs", "unsupported"} {
		t.Run(storageType, func(t *testing.T) {
			factory := NewStorageFactory(&config.StorageConfig{Type: storageType})

			storage, err := factory.CreateStorage()
			assert.Error(t, err)
			assert.Nil(t, storage)
			assert.Contains(t, err.Error(), "unsupported storage type")
		})
	}
}
