package storage

import (
	"context"
	"path"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Store is a named, write-once object store for export archives.
//
// Contract:
//   - Objects are immutable once written.
//   - Put of identical bytes under an existing name MUST succeed (idempotent);
//     different bytes MUST fail with ErrImmutable.
//   - Get MUST return ErrNotFound when the name is absent.
//   - Names are slash-separated relative paths (see CheckName).
type Store interface {
	Put(ctx context.Context, name string, data []byte) (Object, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Has(ctx context.Context, name string) bool
}

// Object describes a stored archive. It is the handle returned for each
// written export file.
type Object struct {
	Name string
	// CID is CIDv1 raw + sha2-256 over the stored bytes.
	CID  cid.Cid
	Size int64
	// Location is a backend-specific locator (file path, s3:// or gs:// URL).
	Location string
}

// ObjectCID returns the CIDv1 (raw + sha2-256) of data.
func ObjectCID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// NewObject builds the Object for data stored under name at location.
func NewObject(name, location string, data []byte) (Object, error) {
	id, err := ObjectCID(data)
	if err != nil {
		return Object{}, err
	}
	return Object{Name: name, CID: id, Size: int64(len(data)), Location: location}, nil
}

// CheckName rejects names that are empty, absolute, or escape the store root.
func CheckName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return ErrInvalidName
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidName
		}
	}
	return nil
}

// ContentType returns the MIME type used when publishing name.
func ContentType(name string) string {
	switch path.Ext(name) {
	case ".zip":
		return "application/zip"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
