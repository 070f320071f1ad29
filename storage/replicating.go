package storage

import (
	"context"
	"fmt"
)

// Named associates a Store with a stable backend name for reporting.
type Named struct {
	Name  string
	Store Store
}

// Replicating writes every object to all backends.
//
// Reads fall back in order. A backend that reports a CID different from the
// one computed locally fails the write with ErrCIDMismatch.
type Replicating struct {
	Backends []Named
}

var _ Store = Replicating{}

// PutAll writes data to all backends in order and returns the canonical
// object plus each backend's own view of it.
func (r Replicating) PutAll(ctx context.Context, name string, data []byte) (Object, map[string]Object, error) {
	if err := CheckName(name); err != nil {
		return Object{}, nil, err
	}
	want, err := ObjectCID(data)
	if err != nil {
		return Object{}, nil, err
	}
	if len(r.Backends) == 0 {
		return Object{}, nil, fmt.Errorf("storage: Replicating has no backends")
	}

	out := make(map[string]Object, len(r.Backends))
	var first Object
	for i, b := range r.Backends {
		if b.Store == nil {
			return Object{}, nil, fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
		got, err := b.Store.Put(ctx, name, data)
		if err != nil {
			return Object{}, out, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if got.CID != want {
			return Object{}, out, ErrCIDMismatch
		}
		if i == 0 {
			first = got
		}
	}
	return first, out, nil
}

func (r Replicating) Put(ctx context.Context, name string, data []byte) (Object, error) {
	obj, _, err := r.PutAll(ctx, name, data)
	return obj, err
}

func (r Replicating) Get(ctx context.Context, name string) ([]byte, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		out, err := b.Store.Get(ctx, name)
		if err == nil {
			return out, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (r Replicating) Has(ctx context.Context, name string) bool {
	for _, b := range r.Backends {
		if b.Store != nil && b.Store.Has(ctx, name) {
			return true
		}
	}
	return false
}
