package signing

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"xdao.co/ekexport/exportpb"
)

// ECDSASigner signs sha256(message) with a P-256 key and returns an ASN.1
// DER signature.
type ECDSASigner struct {
	key  *ecdsa.PrivateKey
	info exportpb.SignatureInfo

	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

var _ Signer = (*ECDSASigner)(nil)

// NewECDSASigner wraps key. info.SignatureAlgorithm defaults to the P-256 OID.
func NewECDSASigner(key *ecdsa.PrivateKey, info exportpb.SignatureInfo) (*ECDSASigner, error) {
	if key == nil {
		return nil, ErrMissingKey
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing: ecdsa key must use P-256, got %s", key.Curve.Params().Name)
	}
	return &ECDSASigner{key: key, info: withAlgorithm(info, AlgorithmECDSAP256SHA256)}, nil
}

// GenerateECDSAKey returns a new P-256 private key.
func GenerateECDSAKey(r io.Reader) (*ecdsa.PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	return ecdsa.GenerateKey(elliptic.P256(), r)
}

func (s *ECDSASigner) Info() exportpb.SignatureInfo { return s.info }

// Public returns the verifying half of the key.
func (s *ECDSASigner) Public() *ecdsa.PublicKey { return &s.key.PublicKey }

func (s *ECDSASigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := s.Rand
	if r == nil {
		r = rand.Reader
	}
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(r, s.key, digest[:])
}

// ECDSAVerifier verifies signatures from ECDSASigner.
type ECDSAVerifier struct {
	key  *ecdsa.PublicKey
	info exportpb.SignatureInfo
}

var _ Verifier = (*ECDSAVerifier)(nil)

func NewECDSAVerifier(key *ecdsa.PublicKey, info exportpb.SignatureInfo) (*ECDSAVerifier, error) {
	if key == nil {
		return nil, ErrMissingKey
	}
	return &ECDSAVerifier{key: key, info: withAlgorithm(info, AlgorithmECDSAP256SHA256)}, nil
}

func (v *ECDSAVerifier) Info() exportpb.SignatureInfo { return v.info }

func (v *ECDSAVerifier) Verify(message, signature []byte) error {
	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(v.key, digest[:], signature) {
		return ErrInvalidSignature
	}
	return nil
}

// MarshalECDSAPrivateKeyPEM encodes key as an "EC PRIVATE KEY" PEM block.
func MarshalECDSAPrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// ParseECDSAPrivateKeyPEM accepts SEC 1 ("EC PRIVATE KEY") and PKCS #8
// ("PRIVATE KEY") encodings.
func ParseECDSAPrivateKeyPEM(b []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("signing: no PEM block found")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ek, ok := k.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing: PKCS #8 key is %T, not ecdsa", k)
		}
		return ek, nil
	default:
		return nil, fmt.Errorf("signing: unexpected PEM block %q", block.Type)
	}
}

// MarshalPublicKeyPEM encodes a public key as a PKIX "PUBLIC KEY" block,
// the form health authorities register with the platform.
func MarshalPublicKeyPEM(pub any) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParseECDSAPublicKeyPEM decodes a PKIX "PUBLIC KEY" block.
func ParseECDSAPublicKeyPEM(b []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(b)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("signing: no PUBLIC KEY PEM block found")
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ek, ok := k.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing: public key is %T, not ecdsa", k)
	}
	return ek, nil
}
