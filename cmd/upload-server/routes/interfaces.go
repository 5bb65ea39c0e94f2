package routes

import (
	"context"

	"github.com/lgulliver/tusgate/internal/upload"
)

// UploadServiceInterface defines the contract for the upload state machine
type UploadServiceInterface interface {
	Create(ctx context.Context, req upload.CreateRequest) (*upload.Session, error)
	Get(ctx context.Context, id string) (*upload.Session, error)
	Upload(ctx context.Context, req upload.UploadRequest) (*upload.Session, error)
	Terminate(ctx context.Context, id string) error
	MaxSize() int64
}
