package storetest

import (
	"bytes"
	"context"
	"sync"

	"xdao.co/ekexport/storage"
)

// Memory is an in-process storage.Store for tests.
//
// FailPut, when set, is consulted before every Put; a non-nil return is
// reported as the Put error and nothing is stored.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	names   []string

	FailPut func(name string) error
}

var _ storage.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}}
}

func (m *Memory) Put(_ context.Context, name string, data []byte) (storage.Object, error) {
	if err := storage.CheckName(name); err != nil {
		return storage.Object{}, err
	}
	if m.FailPut != nil {
		if err := m.FailPut(name); err != nil {
			return storage.Object{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[name]; ok {
		if !bytes.Equal(existing, data) {
			return storage.Object{}, storage.ErrImmutable
		}
	} else {
		m.objects[name] = append([]byte(nil), data...)
		m.names = append(m.names, name)
	}
	return storage.NewObject(name, "mem://"+name, data)
}

func (m *Memory) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Has(_ context.Context, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok
}

// Names returns object names in write order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...)
}
