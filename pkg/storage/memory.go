package storage

import (
	"context"
	"sync"
)

// Memory keeps objects in process. It backs local development and tests.
type Memory struct {
	baseURL string

	mu      sync.Mutex
	objects map[string][]byte
	deleted []string

	// DeleteErr, when set, is returned by every Delete call.
	DeleteErr error
}

func NewMemory(baseURL string) *Memory {
	return &Memory{
		baseURL: baseURL,
		objects: make(map[string][]byte),
	}
}

func (m *Memory) GenerateUploadURL(ctx context.Context) (*UploadTarget, error) {
	key := newObjectKey()
	return &UploadTarget{StorageID: key, UploadURL: m.baseURL + "/upload/" + key}, nil
}

// Put stores data under id, standing in for the client's upload.
func (m *Memory) Put(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = data
}

func (m *Memory) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[id]
	return ok
}

// Deleted returns the ids passed to Delete, in call order.
func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func (m *Memory) GetURL(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		return "", ErrNotFound
	}
	return m.baseURL + "/" + id, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.objects, id)
	m.deleted = append(m.deleted, id)
	return nil
}
