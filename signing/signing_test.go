package signing

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/ekexport/exportpb"
)

func TestECDSASignVerify(t *testing.T) {
	key, err := GenerateECDSAKey(nil)
	if err != nil {
		t.Fatalf("GenerateECDSAKey: %v", err)
	}
	s, err := NewECDSASigner(key, exportpb.SignatureInfo{VerificationKeyID: "310", VerificationKeyVersion: "v1"})
	if err != nil {
		t.Fatalf("NewECDSASigner: %v", err)
	}
	if got := s.Info().SignatureAlgorithm; got != AlgorithmECDSAP256SHA256 {
		t.Fatalf("algorithm: got %q", got)
	}

	msg := []byte("EK Export v1    body")
	sig, err := s.Sign(context.Background(), msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v, err := NewECDSAVerifier(s.Public(), s.Info())
	if err != nil {
		t.Fatalf("NewECDSAVerifier: %v", err)
	}
	if err := v.Verify(msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := v.Verify([]byte("tampered"), sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify tampered: got %v", err)
	}
}

func TestECDSAPEMRoundTrip(t *testing.T) {
	key, err := GenerateECDSAKey(nil)
	if err != nil {
		t.Fatalf("GenerateECDSAKey: %v", err)
	}
	privPEM, err := MarshalECDSAPrivateKeyPEM(key)
	if err != nil {
		t.Fatalf("MarshalECDSAPrivateKeyPEM: %v", err)
	}
	got, err := ParseECDSAPrivateKeyPEM(privPEM)
	if err != nil {
		t.Fatalf("ParseECDSAPrivateKeyPEM: %v", err)
	}
	if !got.Equal(key) {
		t.Fatalf("private key mismatch after PEM round trip")
	}

	pubPEM, err := MarshalPublicKeyPEM(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPublicKeyPEM: %v", err)
	}
	pub, err := ParseECDSAPublicKeyPEM(pubPEM)
	if err != nil {
		t.Fatalf("ParseECDSAPublicKeyPEM: %v", err)
	}
	if !pub.Equal(&key.PublicKey) {
		t.Fatalf("public key mismatch after PEM round trip")
	}
	if _, err := ParseECDSAPrivateKeyPEM([]byte("not pem")); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestEd25519SignVerify(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	s, err := NewEd25519SignerFromSeed(seed, exportpb.SignatureInfo{VerificationKeyID: "ed"})
	if err != nil {
		t.Fatalf("NewEd25519SignerFromSeed: %v", err)
	}
	msg := []byte("hello")
	sig, err := s.Sign(context.Background(), msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v, err := NewEd25519Verifier(s.Public(), s.Info())
	if err != nil {
		t.Fatalf("NewEd25519Verifier: %v", err)
	}
	if err := v.Verify(msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := v.Verify(msg, sig[:10]); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify short signature: got %v", err)
	}
	if _, err := NewEd25519SignerFromSeed(seed[:5], exportpb.SignatureInfo{}); err == nil {
		t.Fatalf("expected error for short seed")
	}
}

func TestDilithium3SignVerify(t *testing.T) {
	pk, sk, err := NewDilithium3KeyFromSeed(bytes.Repeat([]byte{7}, mode3.SeedSize))
	if err != nil {
		t.Fatalf("NewDilithium3KeyFromSeed: %v", err)
	}
	s, err := NewDilithium3Signer(sk, HashSHA3256, exportpb.SignatureInfo{})
	if err != nil {
		t.Fatalf("NewDilithium3Signer: %v", err)
	}
	msg := []byte("hello")
	sig, err := s.Sign(context.Background(), msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	v, err := NewDilithium3Verifier(pk, HashSHA3256, s.Info())
	if err != nil {
		t.Fatalf("NewDilithium3Verifier: %v", err)
	}
	if err := v.Verify(msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := NewDilithium3Signer(sk, "md5", exportpb.SignatureInfo{}); err == nil {
		t.Fatalf("expected error for unsupported hash")
	}
}

func TestDilithium3SeedPEM(t *testing.T) {
	seed := make([]byte, mode3.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	b, err := MarshalDilithium3SeedPEM(seed, HashSHA512)
	if err != nil {
		t.Fatalf("MarshalDilithium3SeedPEM: %v", err)
	}
	got, hashAlg, err := ParseDilithium3SeedPEM(b)
	if err != nil {
		t.Fatalf("ParseDilithium3SeedPEM: %v", err)
	}
	if !bytes.Equal(got, seed) || hashAlg != HashSHA512 {
		t.Fatalf("round trip: got hash %q seed %x", hashAlg, got)
	}

	pk1, sk, err := NewDilithium3KeyFromSeed(seed)
	if err != nil {
		t.Fatalf("NewDilithium3KeyFromSeed: %v", err)
	}
	pk2, _, _ := NewDilithium3KeyFromSeed(got)
	if !pk1.Equal(pk2) {
		t.Fatalf("same seed produced different keys")
	}
	s, err := NewDilithium3Signer(sk, hashAlg, exportpb.SignatureInfo{})
	if err != nil {
		t.Fatalf("NewDilithium3Signer: %v", err)
	}
	if !s.Public().Equal(pk1) {
		t.Fatalf("Public does not match generated key")
	}
	if !strings.HasPrefix(Dilithium3PublicKeyString(pk1), "dilithium3:") {
		t.Fatalf("unexpected public key string")
	}

	if _, err := MarshalDilithium3SeedPEM(seed[:4], HashSHA256); err == nil {
		t.Fatalf("expected error for short seed")
	}
	if _, err := MarshalDilithium3SeedPEM(seed, "md5"); err == nil {
		t.Fatalf("expected error for unsupported hash")
	}
	if _, _, err := ParseDilithium3SeedPEM([]byte("not pem")); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}

func TestSignHonorsCanceledContext(t *testing.T) {
	key, err := GenerateECDSAKey(nil)
	if err != nil {
		t.Fatalf("GenerateECDSAKey: %v", err)
	}
	s, err := NewECDSASigner(key, exportpb.SignatureInfo{})
	if err != nil {
		t.Fatalf("NewECDSASigner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Sign(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sign: got %v want context.Canceled", err)
	}
}
