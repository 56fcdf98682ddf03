// Package storage issues upload URLs for user avatars and organization logos
// and resolves or deletes them by their opaque storage id.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-orgs/pkg/config"
)

var ErrNotFound = errors.New("storage: object not found")

// UploadTarget is handed to the client, which PUTs the file to UploadURL and
// then refers to it by StorageID.
type UploadTarget struct {
	StorageID string `json:"storage_id"`
	UploadURL string `json:"upload_url"`
}

type Storage interface {
	GenerateUploadURL(ctx context.Context) (*UploadTarget, error)
	// GetURL returns the permanent public URL of the object, or ErrNotFound
	// when nothing was uploaded under id. The URL is stored on the owning
	// record, so it must not expire.
	GetURL(ctx context.Context, id string) (string, error)
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
}

var (
	_ Storage = (*S3)(nil)
	_ Storage = (*GCS)(nil)
	_ Storage = (*MinIO)(nil)
	_ Storage = (*Memory)(nil)
)

// New builds the driver named by cfg.Driver.
func New(ctx context.Context, cfg *config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3(ctx, cfg)
	case "gcs":
		return NewGCS(ctx, cfg)
	case "minio":
		return NewMinIO(cfg)
	case "memory", "":
		return NewMemory(publicBase(cfg, "http://localhost/storage/"+cfg.Bucket)), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newObjectKey() string {
	return uuid.NewString()
}

// validKey guards against ids that would address objects outside the
// service's own key space.
func validKey(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// publicBase is cfg.PublicBaseURL, or fallback when none is configured.
func publicBase(cfg *config.StorageConfig, fallback string) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	return strings.TrimRight(fallback, "/")
}

func objectURL(base, key string) string {
	return base + "/" + key
}
