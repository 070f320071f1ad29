// Package storetest holds shared test helpers for storage.Store backends.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"xdao.co/ekexport/storage"
)

// NewStore constructs a fresh, empty Store for a test.
// The returned Store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.Store

// RunConformance checks the storage.Store contract against newStore.
func RunConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		want := []byte("PK export archive bytes")

		obj, err := s.Put(ctx, "exports/batch-1.zip", want)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		wantID, err := storage.ObjectCID(want)
		if err != nil {
			t.Fatalf("ObjectCID failed: %v", err)
		}
		if obj.CID != wantID {
			t.Fatalf("Put CID mismatch: got %s want %s", obj.CID, wantID)
		}
		if obj.Name != "exports/batch-1.zip" || obj.Size != int64(len(want)) {
			t.Fatalf("unexpected object: %+v", obj)
		}
		if obj.Location == "" {
			t.Fatalf("expected a location")
		}

		got, err := s.Get(ctx, "exports/batch-1.zip")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		s := newStore(t)
		b := []byte("same bytes")

		o1, err := s.Put(ctx, "a.zip", b)
		if err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		o2, err := s.Put(ctx, "a.zip", b)
		if err != nil {
			t.Fatalf("Put(2) failed: %v", err)
		}
		if o1.CID != o2.CID {
			t.Fatalf("Put not idempotent: %s vs %s", o1.CID, o2.CID)
		}
	})

	t.Run("RejectOverwrite", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Put(ctx, "a.zip", []byte("one")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if _, err := s.Put(ctx, "a.zip", []byte("two")); !errors.Is(err, storage.ErrImmutable) {
			t.Fatalf("overwrite: got %v want ErrImmutable", err)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		s := newStore(t)
		if s.Has(ctx, "missing.zip") {
			t.Fatalf("Has returned true for missing object")
		}
		if _, err := s.Get(ctx, "missing.zip"); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}
		if _, err := s.Put(ctx, "missing.zip", []byte("now here")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !s.Has(ctx, "missing.zip") {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectInvalidName", func(t *testing.T) {
		s := newStore(t)
		for _, name := range []string{"", "/abs.zip", "../escape.zip", "a//b.zip"} {
			if _, err := s.Put(ctx, name, []byte("x")); err == nil {
				t.Fatalf("Put(%q) should fail", name)
			}
		}
	})
}
