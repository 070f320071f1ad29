package storage

import (
	"context"
	"errors"
)

// Multi provides deterministic, ordered fallback across several stores.
//
// Reads try Stores in slice order. Put writes only to the first store.
type Multi struct {
	Stores []Store
}

var _ Store = Multi{}

func (m Multi) Put(ctx context.Context, name string, data []byte) (Object, error) {
	if len(m.Stores) == 0 {
		return Object{}, errors.New("storage: Multi has no stores")
	}
	return m.Stores[0].Put(ctx, name, data)
}

func (m Multi) Get(ctx context.Context, name string) ([]byte, error) {
	for _, s := range m.Stores {
		b, err := s.Get(ctx, name)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (m Multi) Has(ctx context.Context, name string) bool {
	for _, s := range m.Stores {
		if s.Has(ctx, name) {
			return true
		}
	}
	return false
}
