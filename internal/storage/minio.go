// Package storage provides object-storage backends for profile file uploads.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds connection parameters for an S3-compatible backend.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL, when set, is used to build download URLs directly
	// instead of presigning (e.g. a CDN or public bucket endpoint).
	PublicBaseURL string
}

// MinioStore stores uploads in a single bucket on MinIO or any
// S3-compatible service.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

// NewMinioStore connects to the backend and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Upload stores the object under key and returns the key as its reference.
func (s *MinioStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return info.Key, nil
}

// DownloadURL resolves an object reference to a fetchable URL: the public
// base URL when configured, otherwise a presigned GET (7 day expiry, the
// S3 maximum).
func (s *MinioStore) DownloadURL(ctx context.Context, objectRef string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + objectRef, nil
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, objectRef, 7*24*time.Hour, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectRef, err)
	}
	return presigned.String(), nil
}
