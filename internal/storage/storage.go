package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound         = errors.New("storage: file not found")
	ErrInvalidKey       = errors.New("storage: invalid key")
	ErrAccessDenied     = errors.New("storage: access denied")
	ErrInvalidParts     = errors.New("storage: invalid multipart part list")
	ErrUnknownRegion    = errors.New("storage: unknown region")
	ErrRegionRegistered = errors.New("storage: region already registered")
)

// CompletedPart identifies one uploaded part of a multipart upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// Storage is one bucket in one region.
type Storage interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	CreateMultipartUpload(ctx context.Context, key string) (string, error)
	PresignedPartURL(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	HealthCheck(ctx context.Context) error
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// PartsFromETags numbers etags so that element i becomes part i+1.
func PartsFromETags(etags []string) []CompletedPart {
	parts := make([]CompletedPart, len(etags))
	for i, etag := range etags {
		parts[i] = CompletedPart{PartNumber: i + 1, ETag: etag}
	}
	return parts
}
