package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const regionInfoPrefix = "ekexport-region-seed-v1:"

// Ed25519PublicKeyString formats the public half of seed as
// "ed25519:" + base64(pubkey).
func Ed25519PublicKeyString(seed []byte) string {
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub)
}

// DeriveRegionSeed derives a region-specific Ed25519 seed from a root seed
// with HKDF-SHA256. The same inputs always give the same seed.
func DeriveRegionSeed(rootSeed []byte, region string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckRegion(region); err != nil {
		return nil, err
	}
	r := hkdf.New(sha256.New, rootSeed, nil, []byte(regionInfoPrefix+region))
	out := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
