package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// InMemoryBlobStore is the test double for BlobStore.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	clock   int64
}

type memObject struct {
	data         []byte
	lastModified time.Time
}

// NewInMemoryBlobStore creates an empty in-memory store.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{objects: make(map[string]*memObject)}
}

// Put stores an object with an explicit last-modified instant.
func (s *InMemoryBlobStore) Put(key string, data []byte, lastModified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &memObject{data: data, lastModified: lastModified}
}

// Keys returns every stored key.
func (s *InMemoryBlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	return keys
}

// Get returns a stored object's bytes, or false when absent.
func (s *InMemoryBlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	object, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return object.data, true
}

// ListLatest implements BlobStore.
func (s *InMemoryBlobStore) ListLatest(_ context.Context, prefix string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *ObjectInfo
	for key, object := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		candidate := &ObjectInfo{
			Key:          key,
			ETag:         fmt.Sprintf("etag-%d", len(object.data)),
			Size:         int64(len(object.data)),
			LastModified: object.lastModified,
		}
		if laterThan(candidate, latest) {
			latest = candidate
		}
	}
	return latest, nil
}

// DownloadBytes implements BlobStore.
func (s *InMemoryBlobStore) DownloadBytes(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	object, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	out := make([]byte, len(object.data))
	copy(out, object.data)
	return out, nil
}

// UploadBytes implements BlobStore.
func (s *InMemoryBlobStore) UploadBytes(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.clock++
	s.objects[key] = &memObject{
		data:         stored,
		lastModified: time.Unix(s.clock, 0).UTC(),
	}
	return nil
}

// UploadText implements BlobStore.
func (s *InMemoryBlobStore) UploadText(ctx context.Context, key string, text string) error {
	return s.UploadBytes(ctx, key, []byte(text))
}

// Presign implements BlobStore with a synthetic URL.
func (s *InMemoryBlobStore) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s?ttl=%ds", key, int(ttl.Seconds())), nil
}
