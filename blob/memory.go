package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const memoryScheme = "mem://"

type object struct {
	contentType string
	data        []byte
}

// Memory keeps blobs in a map. References are "mem://<key>".
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]object)}
}

func (m *Memory) Upload(_ context.Context, key, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[key]; exists {
		return "", fmt.Errorf("blob %s already exists", key)
	}
	m.objects[key] = object{contentType: contentType, data: append([]byte(nil), data...)}
	return memoryScheme + key, nil
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (m *Memory) Delete(_ context.Context, url string) error {
	key, ok := strings.CutPrefix(url, memoryScheme)
	if !ok {
		return fmt.Errorf("not a memory blob reference: %s", url)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Get returns the stored bytes of a reference.
func (m *Memory) Get(url string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[strings.TrimPrefix(url, memoryScheme)]
	return o.data, ok
}

// Keys lists stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
