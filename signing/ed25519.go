package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"xdao.co/ekexport/exportpb"
)

// Ed25519Signer signs sha256(message).
type Ed25519Signer struct {
	key  ed25519.PrivateKey
	info exportpb.SignatureInfo
}

var _ Signer = (*Ed25519Signer)(nil)

// NewEd25519SignerFromSeed derives the private key from a 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte, info exportpb.SignatureInfo) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{key: ed25519.NewKeyFromSeed(seed), info: withAlgorithm(info, AlgorithmEd25519)}, nil
}

func (s *Ed25519Signer) Info() exportpb.SignatureInfo { return s.info }

func (s *Ed25519Signer) Public() ed25519.PublicKey { return s.key.Public().(ed25519.PublicKey) }

func (s *Ed25519Signer) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(message)
	return ed25519.Sign(s.key, digest[:]), nil
}

// Ed25519Verifier verifies signatures from Ed25519Signer.
type Ed25519Verifier struct {
	key  ed25519.PublicKey
	info exportpb.SignatureInfo
}

var _ Verifier = (*Ed25519Verifier)(nil)

func NewEd25519Verifier(pub ed25519.PublicKey, info exportpb.SignatureInfo) (*Ed25519Verifier, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return &Ed25519Verifier{key: pub, info: withAlgorithm(info, AlgorithmEd25519)}, nil
}

func (v *Ed25519Verifier) Info() exportpb.SignatureInfo { return v.info }

func (v *Ed25519Verifier) Verify(message, signature []byte) error {
	if len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	digest := sha256.Sum256(message)
	if !ed25519.Verify(v.key, digest[:], signature) {
		return ErrInvalidSignature
	}
	return nil
}
