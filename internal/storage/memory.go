package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-process object store for tests and local development.
type Memory struct {
	mu   sync.Mutex
	objs map[string]memObject
	// FailUploads makes every Upload call fail, for failure-path tests.
	FailUploads bool
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemory() *Memory {
	return &Memory{objs: make(map[string]memObject)}
}

func (m *Memory) Upload(_ context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	m.mu.Lock()
	fail := m.FailUploads
	m.mu.Unlock()
	if fail {
		return "", fmt.Errorf("upload refused")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if size >= 0 && int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch for %s: declared %d, read %d", key, size, len(data))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = memObject{data: data, contentType: contentType}
	return key, nil
}

func (m *Memory) DownloadURL(_ context.Context, objectRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objs[objectRef]; !ok {
		return "", fmt.Errorf("object %s not found", objectRef)
	}
	return "memory://" + objectRef, nil
}

// Len reports how many objects were stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objs)
}

// Keys lists stored object keys.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objs))
	for k := range m.objs {
		keys = append(keys, k)
	}
	return keys
}

// Object returns a stored object's bytes and content type.
func (m *Memory) Object(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objs[key]
	return obj.data, obj.contentType, ok
}
