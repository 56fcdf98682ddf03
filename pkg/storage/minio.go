package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hugh/go-orgs/pkg/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinIO struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	public string
}

func NewMinIO(cfg *config.StorageConfig) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return &MinIO{
		client: client,
		bucket: cfg.Bucket,
		expiry: urlExpiry(cfg),
		public: publicBase(cfg, scheme+"://"+cfg.Endpoint+"/"+cfg.Bucket),
	}, nil
}

func (m *MinIO) GenerateUploadURL(ctx context.Context) (*UploadTarget, error) {
	key := newObjectKey()

	u, err := m.client.PresignedPutObject(ctx, m.bucket, key, m.expiry)
	if err != nil {
		return nil, fmt.Errorf("presigning upload: %w", err)
	}

	return &UploadTarget{StorageID: key, UploadURL: u.String()}, nil
}

func (m *MinIO) GetURL(ctx context.Context, id string) (string, error) {
	if !validKey(id) {
		return "", ErrNotFound
	}

	if _, err := m.client.StatObject(ctx, m.bucket, id, minio.StatObjectOptions{}); err != nil {
		if isMinIONotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat object: %w", err)
	}

	return objectURL(m.public, id), nil
}

func (m *MinIO) Delete(ctx context.Context, id string) error {
	if !validKey(id) {
		return nil
	}

	err := m.client.RemoveObject(ctx, m.bucket, id, minio.RemoveObjectOptions{})
	if err != nil && !isMinIONotFound(err) {
		return fmt.Errorf("removing object: %w", err)
	}
	return nil
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
