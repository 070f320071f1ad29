package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/ekexport/exportpb"
	"xdao.co/ekexport/signing"
)

// Kind is the key type stored under a name.
type Kind string

const (
	KindECDSA   Kind = "ecdsa-p256"
	KindEd25519 Kind = "ed25519"
	// KindDilithium3 keys are not accepted by GAEN devices.
	KindDilithium3 Kind = "dilithium3"
)

const (
	ecdsaFile      = "ecdsa.pem"
	dilithium3File = "dilithium3.pem"
	seedFile       = "root.seed"
	regionDir      = "regions"
)

var ErrKeyNotFound = errors.New("keys: key not found")

// KeyStore is a directory of named signing keys.
type KeyStore struct {
	Directory string
}

type Entry struct {
	Name    string
	Kind    Kind
	Regions []string
}

// DefaultDirectory returns ~/.ekexport/keys.
func DefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ekexport", "keys"), nil
}

// Open returns a KeyStore rooted at directory, or DefaultDirectory if empty.
func Open(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func checkIdent(what, s string) error {
	if s == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in %s", c, what)
	}
	return nil
}

func CheckKeyName(name string) error { return checkIdent("key name", name) }

func CheckRegion(region string) error { return checkIdent("region", region) }

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func (ks *KeyStore) ecdsaPath(name string) string {
	return filepath.Join(ks.Directory, name, ecdsaFile)
}

func (ks *KeyStore) dilithium3Path(name string) string {
	return filepath.Join(ks.Directory, name, dilithium3File)
}

func (ks *KeyStore) seedPath(name string) string {
	return filepath.Join(ks.Directory, name, seedFile)
}

func (ks *KeyStore) regionPath(name, region string) string {
	return filepath.Join(ks.Directory, name, regionDir, region+".seed")
}

func writeFile(path string, data []byte, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Close()
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
	}
	return b, err
}

// Kind reports which kind of key is stored under name.
func (ks *KeyStore) Kind(name string) (Kind, error) {
	if err := CheckKeyName(name); err != nil {
		return "", err
	}
	if _, err := os.Stat(ks.ecdsaPath(name)); err == nil {
		return KindECDSA, nil
	}
	if _, err := os.Stat(ks.dilithium3Path(name)); err == nil {
		return KindDilithium3, nil
	}
	if _, err := os.Stat(ks.seedPath(name)); err == nil {
		return KindEd25519, nil
	}
	return "", fmt.Errorf("%w: %s", ErrKeyNotFound, name)
}

func (ks *KeyStore) checkFree(name string, overwrite bool) error {
	if overwrite {
		return nil
	}
	if k, err := ks.Kind(name); err == nil {
		return fmt.Errorf("keys: %q already holds a %s key", name, k)
	}
	return nil
}

// InitECDSA generates a P-256 key under name and returns its public key PEM.
func (ks *KeyStore) InitECDSA(name string, overwrite bool) (publicPEM string, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	if err := ks.checkFree(name, overwrite); err != nil {
		return "", "", err
	}
	key, err := signing.GenerateECDSAKey(nil)
	if err != nil {
		return "", "", err
	}
	priv, err := signing.MarshalECDSAPrivateKeyPEM(key)
	if err != nil {
		return "", "", err
	}
	path = ks.ecdsaPath(name)
	if err := writeFile(path, priv, overwrite); err != nil {
		return "", "", err
	}
	pub, err := signing.MarshalPublicKeyPEM(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	return string(pub), path, nil
}

// InitDilithium3 generates a Dilithium3 seed under name. Signatures are
// made over the hashAlg digest of the message.
func (ks *KeyStore) InitDilithium3(name, hashAlg string, overwrite bool) (publicKey string, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	if err := ks.checkFree(name, overwrite); err != nil {
		return "", "", err
	}
	seed := make([]byte, mode3.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", "", err
	}
	b, err := signing.MarshalDilithium3SeedPEM(seed, hashAlg)
	if err != nil {
		return "", "", err
	}
	pk, _, err := signing.NewDilithium3KeyFromSeed(seed)
	if err != nil {
		return "", "", err
	}
	path = ks.dilithium3Path(name)
	if err := writeFile(path, b, overwrite); err != nil {
		return "", "", err
	}
	return signing.Dilithium3PublicKeyString(pk), path, nil
}

func (ks *KeyStore) loadDilithium3(name string) (*mode3.PublicKey, *mode3.PrivateKey, string, error) {
	b, err := readFile(ks.dilithium3Path(name))
	if err != nil {
		return nil, nil, "", err
	}
	seed, hashAlg, err := signing.ParseDilithium3SeedPEM(b)
	if err != nil {
		return nil, nil, "", fmt.Errorf("keys: %s: %w", name, err)
	}
	pk, sk, err := signing.NewDilithium3KeyFromSeed(seed)
	if err != nil {
		return nil, nil, "", err
	}
	return pk, sk, hashAlg, nil
}

// InitSeed stores an Ed25519 root seed under name.
func (ks *KeyStore) InitSeed(name string, seed []byte, overwrite bool) (publicKey string, path string, err error) {
	if err := CheckKeyName(name); err != nil {
		return "", "", err
	}
	if len(seed) != ed25519.SeedSize {
		return "", "", fmt.Errorf("expected seed length of %d bytes", ed25519.SeedSize)
	}
	if err := ks.checkFree(name, overwrite); err != nil {
		return "", "", err
	}
	path = ks.seedPath(name)
	if err := writeFile(path, []byte(hex.EncodeToString(seed)+"\n"), overwrite); err != nil {
		return "", "", err
	}
	return Ed25519PublicKeyString(seed), path, nil
}

func (ks *KeyStore) loadSeed(path string) ([]byte, error) {
	b, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(string(b))
}

// DeriveRegion derives and stores the region seed for the root seed under from.
func (ks *KeyStore) DeriveRegion(from, region string, overwrite bool) (publicKey string, path string, err error) {
	if err := CheckKeyName(from); err != nil {
		return "", "", err
	}
	root, err := ks.loadSeed(ks.seedPath(from))
	if err != nil {
		return "", "", err
	}
	seed, err := DeriveRegionSeed(root, region)
	if err != nil {
		return "", "", err
	}
	path = ks.regionPath(from, region)
	if err := writeFile(path, []byte(hex.EncodeToString(seed)+"\n"), overwrite); err != nil {
		return "", "", err
	}
	return Ed25519PublicKeyString(seed), path, nil
}

func (ks *KeyStore) ed25519Seed(name, region string) ([]byte, error) {
	if region == "" {
		return ks.loadSeed(ks.seedPath(name))
	}
	if err := CheckRegion(region); err != nil {
		return nil, err
	}
	return ks.loadSeed(ks.regionPath(name, region))
}

func noRegions(name string, kind Kind, region string) error {
	if region != "" {
		return fmt.Errorf("keys: %q is a %s key and has no region keys", name, kind)
	}
	return nil
}

// LoadSigner returns a signer for the key under name. region selects a
// derived Ed25519 seed and must be empty for other kinds.
func (ks *KeyStore) LoadSigner(name, region string, info exportpb.SignatureInfo) (signing.Signer, error) {
	kind, err := ks.Kind(name)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindECDSA:
		if err := noRegions(name, kind, region); err != nil {
			return nil, err
		}
		b, err := readFile(ks.ecdsaPath(name))
		if err != nil {
			return nil, err
		}
		key, err := signing.ParseECDSAPrivateKeyPEM(b)
		if err != nil {
			return nil, fmt.Errorf("keys: %s: %w", name, err)
		}
		s, err := signing.NewECDSASigner(key, info)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindDilithium3:
		if err := noRegions(name, kind, region); err != nil {
			return nil, err
		}
		_, sk, hashAlg, err := ks.loadDilithium3(name)
		if err != nil {
			return nil, err
		}
		s, err := signing.NewDilithium3Signer(sk, hashAlg, info)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		seed, err := ks.ed25519Seed(name, region)
		if err != nil {
			return nil, err
		}
		s, err := signing.NewEd25519SignerFromSeed(seed, info)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// LoadVerifier returns the verifier matching LoadSigner(name, region, info).
func (ks *KeyStore) LoadVerifier(name, region string, info exportpb.SignatureInfo) (signing.Verifier, error) {
	s, err := ks.LoadSigner(name, region, info)
	if err != nil {
		return nil, err
	}
	var v signing.Verifier
	switch s := s.(type) {
	case *signing.ECDSASigner:
		v, err = signing.NewECDSAVerifier(s.Public(), info)
	case *signing.Ed25519Signer:
		v, err = signing.NewEd25519Verifier(s.Public(), info)
	case *signing.Dilithium3Signer:
		v, err = signing.NewDilithium3Verifier(s.Public(), s.HashAlg(), info)
	default:
		err = fmt.Errorf("keys: no verifier for %T", s)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// PublicKey returns a PEM public key for ECDSA keys, "dilithium3:<base64>"
// for Dilithium3 keys and "ed25519:<base64>" for seeds.
func (ks *KeyStore) PublicKey(name, region string) (string, error) {
	kind, err := ks.Kind(name)
	if err != nil {
		return "", err
	}
	switch kind {
	case KindDilithium3:
		if err := noRegions(name, kind, region); err != nil {
			return "", err
		}
		pk, _, _, err := ks.loadDilithium3(name)
		if err != nil {
			return "", err
		}
		return signing.Dilithium3PublicKeyString(pk), nil
	case KindECDSA:
		if err := noRegions(name, kind, region); err != nil {
			return "", err
		}
		b, err := readFile(ks.ecdsaPath(name))
		if err != nil {
			return "", err
		}
		key, err := signing.ParseECDSAPrivateKeyPEM(b)
		if err != nil {
			return "", err
		}
		pub, err := signing.MarshalPublicKeyPEM(&key.PublicKey)
		return string(pub), err
	}
	seed, err := ks.ed25519Seed(name, region)
	if err != nil {
		return "", err
	}
	return Ed25519PublicKeyString(seed), nil
}

// List returns all stored keys sorted by name.
func (ks *KeyStore) List() ([]Entry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		kind, err := ks.Kind(e.Name())
		if err != nil {
			continue
		}
		entry := Entry{Name: e.Name(), Kind: kind}
		regionEntries, rerr := os.ReadDir(filepath.Join(ks.Directory, e.Name(), regionDir))
		if rerr == nil {
			for _, r := range regionEntries {
				if !r.IsDir() && strings.HasSuffix(r.Name(), ".seed") {
					entry.Regions = append(entry.Regions, strings.TrimSuffix(r.Name(), ".seed"))
				}
			}
			sort.Strings(entry.Regions)
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
