package metrics

import (
	"context"
	"io"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/storage"
)

// InstrumentedStorage records prometheus metrics around the storage calls
// that touch the network on the hot paths.
type InstrumentedStorage struct {
	storage.Storage
}

func NewInstrumentedStorage(s storage.Storage) *InstrumentedStorage {
	return &InstrumentedStorage{Storage: s}
}

func observe(op string, start time.Time, err error) {
	StorageOperationsTotal.WithLabelValues(op, statusLabel(err)).Inc()
	StorageOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *InstrumentedStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	start := time.Now()
	err := s.Storage.Upload(ctx, key, reader, contentType, size)
	observe("upload", start, err)
	if err == nil {
		StorageBytesTotal.WithLabelValues("upload").Add(float64(size))
	}
	return err
}

func (s *InstrumentedStorage) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.Storage.Delete(ctx, key)
	observe("delete", start, err)
	return err
}

func (s *InstrumentedStorage) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	start := time.Now()
	id, err := s.Storage.CreateMultipartUpload(ctx, key)
	observe("create_multipart", start, err)
	return id, err
}

func (s *InstrumentedStorage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) error {
	start := time.Now()
	err := s.Storage.CompleteMultipartUpload(ctx, key, uploadID, parts)
	observe("complete_multipart", start, err)
	return err
}

func (s *InstrumentedStorage) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	start := time.Now()
	err := s.Storage.AbortMultipartUpload(ctx, key, uploadID)
	observe("abort_multipart", start, err)
	return err
}
