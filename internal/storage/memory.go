package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryStorage is an in-memory implementation of Storage for testing.
// It stores files in a map and is safe for concurrent use.
type MemoryStorage struct {
	name string

	mu          sync.RWMutex
	files       map[string]memoryFile
	uploads     map[string]string
	nextUpload  int
	deleteFails int
	deleteErr   error
	deletes     []string
	aborts      []string
}

type memoryFile struct {
	data        []byte
	contentType string
}

// NewMemoryStorage creates a new in-memory storage instance. name appears in
// presigned URLs so tests can tell regions apart.
func NewMemoryStorage(name string) *MemoryStorage {
	return &MemoryStorage{
		name:    name,
		files:   make(map[string]memoryFile),
		uploads: make(map[string]string),
	}
}

var _ Storage = (*MemoryStorage)(nil)

func (s *MemoryStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return ErrInvalidKey
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = memoryFile{data: data, contentType: contentType}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes = append(s.deletes, key)
	if s.deleteFails > 0 {
		s.deleteFails--
		return s.deleteErr
	}
	if _, ok := s.files[key]; !ok {
		return ErrNotFound
	}
	delete(s.files, key)
	return nil
}

func (s *MemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.files[key]
	return exists, nil
}

// GetPresignedURL returns a fake presigned URL for testing.
func (s *MemoryStorage) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, exists := s.files[key]; !exists {
		return "", ErrNotFound
	}
	return fmt.Sprintf("http://%s.test-storage/%s?method=GET&expires=%d", s.name, key, int(expiry.Seconds())), nil
}

func (s *MemoryStorage) PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrInvalidKey
	}
	return fmt.Sprintf("http://%s.test-storage/%s?method=PUT&expires=%d", s.name, key, int(expiry.Seconds())), nil
}

func (s *MemoryStorage) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUpload++
	uploadID := fmt.Sprintf("upload-%d", s.nextUpload)
	s.uploads[uploadID] = key
	return uploadID, nil
}

func (s *MemoryStorage) PresignedPartURL(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.uploads[uploadID] != key {
		return "", ErrNotFound
	}
	return fmt.Sprintf("http://%s.test-storage/%s?method=PUT&partNumber=%d&uploadId=%s&expires=%d",
		s.name, key, partNumber, uploadID, int(expiry.Seconds())), nil
}

// CompleteMultipartUpload requires parts numbered 1..n with non-empty ETags.
func (s *MemoryStorage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(parts) == 0 {
		return ErrInvalidParts
	}
	for i, p := range parts {
		if p.PartNumber != i+1 || p.ETag == "" {
			return ErrInvalidParts
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploads[uploadID] != key {
		return ErrNotFound
	}
	delete(s.uploads, uploadID)
	s.files[key] = memoryFile{}
	return nil
}

func (s *MemoryStorage) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts = append(s.aborts, uploadID)
	if s.uploads[uploadID] != key {
		return ErrNotFound
	}
	delete(s.uploads, uploadID)
	return nil
}

func (s *MemoryStorage) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Put stores an empty object at key (test helper).
func (s *MemoryStorage) Put(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = memoryFile{}
}

// Has reports whether key is stored (test helper).
func (s *MemoryStorage) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[key]
	return ok
}

// FailDeletes makes the next n Delete calls return err (test helper).
func (s *MemoryStorage) FailDeletes(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFails = n
	s.deleteErr = err
}

// Deletes returns every key passed to Delete, including failed attempts (test helper).
func (s *MemoryStorage) Deletes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.deletes...)
}

// Aborts returns every upload id passed to AbortMultipartUpload (test helper).
func (s *MemoryStorage) Aborts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.aborts...)
}

// OpenUploads returns the number of multipart uploads not yet completed or aborted (test helper).
func (s *MemoryStorage) OpenUploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}

// Count returns the number of stored files (test helper).
func (s *MemoryStorage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
