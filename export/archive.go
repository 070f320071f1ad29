package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"

	"xdao.co/ekexport/exportpb"
	"xdao.co/ekexport/signing"
)

var (
	ErrBadHeader    = errors.New("export: bad export.bin header")
	ErrMissingEntry = errors.New("export: missing archive entry")
	ErrUnsigned     = errors.New("export: archive is unsigned")
	ErrNoSignature  = errors.New("export: no signature for verification key")
)

// Archive is a decoded export zip.
type Archive struct {
	// Bin is the raw export.bin contents, header included.
	Bin        []byte
	Export     *exportpb.Export
	Signatures *exportpb.SignatureList
}

// ReadArchive decodes an export zip produced by MarshalBatch or any GAEN
// compatible exporter.
func ReadArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("export: open zip: %w", err)
	}
	entries := map[string][]byte{}
	for _, f := range zr.File {
		if f.Name != ExportEntry && f.Name != SignatureEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("export: open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("export: read %s: %w", f.Name, err)
		}
		entries[f.Name] = b
	}

	bin, ok := entries[ExportEntry]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, ExportEntry)
	}
	sig, ok := entries[SignatureEntry]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, SignatureEntry)
	}
	if len(bin) < len(Header) || string(bin[:len(Header)]) != Header {
		return nil, ErrBadHeader
	}

	msg, err := exportpb.UnmarshalExport(bin[len(Header):])
	if err != nil {
		return nil, fmt.Errorf("export: %s: %w", ExportEntry, err)
	}
	list, err := exportpb.UnmarshalSignatureList(sig)
	if err != nil {
		return nil, fmt.Errorf("export: %s: %w", SignatureEntry, err)
	}
	return &Archive{Bin: bin, Export: msg, Signatures: list}, nil
}

// Signed reports whether the archive carries any signature.
func (a *Archive) Signed() bool {
	return a.Signatures != nil && len(a.Signatures.Signatures) > 0
}

// Verify checks every signature made with v's key id against export.bin.
// It fails if none matches.
func (a *Archive) Verify(v signing.Verifier) error {
	if !a.Signed() {
		return ErrUnsigned
	}
	want := v.Info().VerificationKeyID
	checked := 0
	for _, s := range a.Signatures.Signatures {
		if s.SignatureInfo.VerificationKeyID != want {
			continue
		}
		if err := v.Verify(a.Bin, s.Signature); err != nil {
			return fmt.Errorf("export: key %q version %q: %w", want, s.SignatureInfo.VerificationKeyVersion, err)
		}
		checked++
	}
	if checked == 0 {
		return fmt.Errorf("%w: %q", ErrNoSignature, want)
	}
	return nil
}
