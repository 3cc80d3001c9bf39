package blob

import (
	"context"
	"errors"
	"path"
	"sync"
)

// MemoryStore is an in-process Store used by tests and by environments
// with no object storage configured. References use the blob:// scheme so
// they are distinguishable from real bucket URLs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// FailNext makes the next Upload return err, then clears itself.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemoryStore) Upload(ctx context.Context, folder, name string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		err := s.fail
		s.fail = nil
		return "", err
	}
	object := path.Join(folder, name)
	s.objects[object] = append([]byte(nil), data...)
	return "blob://" + object, nil
}

// Object returns the stored payload for an object path.
func (s *MemoryStore) Object(object string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[object]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

// Len reports how many objects have been stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

var _ Store = (*MemoryStore)(nil)
