// Package signing provides the detached-signature capability used for key
// export archives.
//
// A Signer produces the signature stored in export.sig; a Verifier checks
// it. Both describe themselves with an exportpb.SignatureInfo so the export
// body and signature list name the key that was used.
package signing

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"xdao.co/ekexport/exportpb"
)

// Algorithm identifiers written to SignatureInfo.SignatureAlgorithm.
const (
	// AlgorithmECDSAP256SHA256 is the OID GAEN verifiers require.
	AlgorithmECDSAP256SHA256 = "1.2.840.10045.4.3.2"
	AlgorithmEd25519         = "1.3.101.112"
	AlgorithmDilithium3      = "dilithium3"
)

// Digest algorithm names accepted by the Dilithium3 signer.
const (
	HashSHA256  = "sha256"
	HashSHA512  = "sha512"
	HashSHA3256 = "sha3-256"
)

var (
	ErrInvalidSignature = errors.New("signing: signature invalid")
	ErrMissingKey       = errors.New("signing: missing key")
)

// Signer signs export bytes.
type Signer interface {
	Info() exportpb.SignatureInfo
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// Verifier checks signatures produced by a matching Signer.
type Verifier interface {
	Info() exportpb.SignatureInfo
	Verify(message, signature []byte) error
}

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case HashSHA256:
		s := sha256.Sum256(message)
		return s[:], nil
	case HashSHA512:
		s := sha512.Sum512(message)
		return s[:], nil
	case HashSHA3256:
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("signing: unsupported hash algorithm: %q", hashAlg)
	}
}

// withAlgorithm returns info with SignatureAlgorithm defaulted to alg.
func withAlgorithm(info exportpb.SignatureInfo, alg string) exportpb.SignatureInfo {
	if info.SignatureAlgorithm == "" {
		info.SignatureAlgorithm = alg
	}
	return info
}
