package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"
)

func TestDeriveRegionSeedDeterministic(t *testing.T) {
	root := make([]byte, ed25519.SeedSize)
	for i := range root {
		root[i] = byte(i)
	}

	a, err := DeriveRegionSeed(root, "GB")
	if err != nil {
		t.Fatalf("DeriveRegionSeed: %v", err)
	}
	b, err := DeriveRegionSeed(root, "GB")
	if err != nil {
		t.Fatalf("DeriveRegionSeed: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected deterministic derivation")
	}

	c, err := DeriveRegionSeed(root, "DE")
	if err != nil {
		t.Fatalf("DeriveRegionSeed: %v", err)
	}
	if string(a) == string(c) {
		t.Fatalf("expected different regions to derive different seeds")
	}
	if string(a) == string(root) {
		t.Fatalf("derived seed must differ from root")
	}
}

func TestDeriveRegionSeedRejectsBadInput(t *testing.T) {
	if _, err := DeriveRegionSeed([]byte{1, 2, 3}, "GB"); err == nil {
		t.Fatalf("expected error for short root seed")
	}
	if _, err := DeriveRegionSeed(make([]byte, ed25519.SeedSize), "G/B"); err == nil {
		t.Fatalf("expected error for invalid region")
	}
}

func TestEd25519PublicKeyStringFormat(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = 0x42
	}
	s := Ed25519PublicKeyString(seed)
	if !strings.HasPrefix(s, "ed25519:") {
		t.Fatalf("expected ed25519 prefix, got %q", s)
	}
	pub, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "ed25519:"))
	if err != nil {
		t.Fatalf("expected valid base64: %v", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		t.Fatalf("expected %d pubkey bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
}
