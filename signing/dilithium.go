package signing

import (
	"context"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/ekexport/exportpb"
)

// Dilithium3Signer is a post-quantum signer over hash(message).
// It is not accepted by GAEN devices; it exists for side-channel
// distribution where both ends are under the exporter's control.
type Dilithium3Signer struct {
	key     *mode3.PrivateKey
	hashAlg string
	info    exportpb.SignatureInfo
}

var _ Signer = (*Dilithium3Signer)(nil)

// NewDilithium3Signer wraps key. hashAlg must be one of sha256, sha512, sha3-256.
func NewDilithium3Signer(key *mode3.PrivateKey, hashAlg string, info exportpb.SignatureInfo) (*Dilithium3Signer, error) {
	if key == nil {
		return nil, ErrMissingKey
	}
	if _, err := digestFor(hashAlg, nil); err != nil {
		return nil, err
	}
	return &Dilithium3Signer{key: key, hashAlg: hashAlg, info: withAlgorithm(info, AlgorithmDilithium3)}, nil
}

// NewDilithium3KeyFromSeed expands a mode3.SeedSize seed into a keypair.
func NewDilithium3KeyFromSeed(seed []byte) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	if len(seed) != mode3.SeedSize {
		return nil, nil, fmt.Errorf("signing: dilithium3 seed must be %d bytes, got %d", mode3.SeedSize, len(seed))
	}
	var buf [mode3.SeedSize]byte
	copy(buf[:], seed)
	pk, sk := mode3.NewKeyFromSeed(&buf)
	return pk, sk, nil
}

const dilithium3SeedPEMType = "DILITHIUM3 SEED"

// MarshalDilithium3SeedPEM stores a seed together with the digest the key
// signs over, so a reloaded key signs exactly as before.
func MarshalDilithium3SeedPEM(seed []byte, hashAlg string) ([]byte, error) {
	if len(seed) != mode3.SeedSize {
		return nil, fmt.Errorf("signing: dilithium3 seed must be %d bytes, got %d", mode3.SeedSize, len(seed))
	}
	if _, err := digestFor(hashAlg, nil); err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:    dilithium3SeedPEMType,
		Headers: map[string]string{"Hash": hashAlg},
		Bytes:   seed,
	}), nil
}

// ParseDilithium3SeedPEM is the inverse of MarshalDilithium3SeedPEM.
func ParseDilithium3SeedPEM(b []byte) (seed []byte, hashAlg string, err error) {
	block, _ := pem.Decode(b)
	if block == nil || block.Type != dilithium3SeedPEMType {
		return nil, "", errors.New("signing: no DILITHIUM3 SEED PEM block found")
	}
	hashAlg = block.Headers["Hash"]
	if _, err := digestFor(hashAlg, nil); err != nil {
		return nil, "", err
	}
	if len(block.Bytes) != mode3.SeedSize {
		return nil, "", fmt.Errorf("signing: dilithium3 seed must be %d bytes, got %d", mode3.SeedSize, len(block.Bytes))
	}
	return block.Bytes, hashAlg, nil
}

// Dilithium3PublicKeyString renders pk as "dilithium3:<base64>".
func Dilithium3PublicKeyString(pk *mode3.PublicKey) string {
	return "dilithium3:" + base64.StdEncoding.EncodeToString(pk.Bytes())
}

func (s *Dilithium3Signer) Info() exportpb.SignatureInfo { return s.info }

// Public returns the verifying half of the key.
func (s *Dilithium3Signer) Public() *mode3.PublicKey { return s.key.Public().(*mode3.PublicKey) }

func (s *Dilithium3Signer) HashAlg() string { return s.hashAlg }

func (s *Dilithium3Signer) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest, err := digestFor(s.hashAlg, message)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.key, digest, sig)
	return sig, nil
}

// Dilithium3Verifier verifies signatures from Dilithium3Signer.
type Dilithium3Verifier struct {
	key     *mode3.PublicKey
	hashAlg string
	info    exportpb.SignatureInfo
}

var _ Verifier = (*Dilithium3Verifier)(nil)

func NewDilithium3Verifier(pub *mode3.PublicKey, hashAlg string, info exportpb.SignatureInfo) (*Dilithium3Verifier, error) {
	if pub == nil {
		return nil, ErrMissingKey
	}
	if _, err := digestFor(hashAlg, nil); err != nil {
		return nil, err
	}
	return &Dilithium3Verifier{key: pub, hashAlg: hashAlg, info: withAlgorithm(info, AlgorithmDilithium3)}, nil
}

func (v *Dilithium3Verifier) Info() exportpb.SignatureInfo { return v.info }

func (v *Dilithium3Verifier) Verify(message, signature []byte) error {
	if len(signature) != mode3.SignatureSize {
		return ErrInvalidSignature
	}
	digest, err := digestFor(v.hashAlg, message)
	if err != nil {
		return err
	}
	if !mode3.Verify(v.key, digest, signature) {
		return ErrInvalidSignature
	}
	return nil
}
