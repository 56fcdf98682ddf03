package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/hugh/go-orgs/pkg/config"
	"google.golang.org/api/option"
)

type GCS struct {
	bucket *gcs.BucketHandle
	expiry time.Duration
	public string
}

func NewGCS(ctx context.Context, cfg *config.StorageConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}

	return &GCS{
		bucket: client.Bucket(cfg.Bucket),
		expiry: urlExpiry(cfg),
		public: publicBase(cfg, "https://storage.googleapis.com/"+cfg.Bucket),
	}, nil
}

func (g *GCS) GenerateUploadURL(ctx context.Context) (*UploadTarget, error) {
	key := newObjectKey()

	url, err := g.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodPut,
		Expires: time.Now().Add(g.expiry),
	})
	if err != nil {
		return nil, fmt.Errorf("signing upload url: %w", err)
	}

	return &UploadTarget{StorageID: key, UploadURL: url}, nil
}

func (g *GCS) GetURL(ctx context.Context, id string) (string, error) {
	if !validKey(id) {
		return "", ErrNotFound
	}

	if _, err := g.bucket.Object(id).Attrs(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading object attrs: %w", err)
	}

	return objectURL(g.public, id), nil
}

func (g *GCS) Delete(ctx context.Context, id string) error {
	if !validKey(id) {
		return nil
	}

	err := g.bucket.Object(id).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}
