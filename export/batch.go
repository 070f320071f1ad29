// Package export writes GAEN temporary exposure key export archives.
//
// Each archive is a zip holding two entries: export.bin (a fixed 16-byte
// header followed by a TemporaryExposureKeyExport message) and export.sig
// (a TEKSignatureList whose signatures cover the whole of export.bin).
package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zip"

	"xdao.co/ekexport/exportpb"
	"xdao.co/ekexport/signing"
	"xdao.co/ekexport/tek"
)

const (
	// Header prefixes every export.bin: "EK Export v1" right-padded with
	// spaces to 16 bytes.
	Header = "EK Export v1    "

	ExportEntry    = "export.bin"
	SignatureEntry = "export.sig"
)

// Batch is one numbered slice of an export call. Every batch produced by a
// single call shares Start, End, Region and BatchSize.
type Batch struct {
	Keys      []tek.Key
	BatchNum  int
	BatchSize int
	Start     time.Time
	End       time.Time
	Region    string
}

// Partition splits keys into consecutive chunks of at most maxKeys keys,
// preserving order. It returns nil for empty input and panics if maxKeys <= 0.
func Partition(keys []tek.Key, maxKeys int) [][]tek.Key {
	if maxKeys <= 0 {
		panic(fmt.Sprintf("export: maxKeysPerBatch must be positive, got %d", maxKeys))
	}
	if len(keys) == 0 {
		return nil
	}
	n := (len(keys) + maxKeys - 1) / maxKeys
	chunks := make([][]tek.Key, 0, n)
	for i := 0; i < len(keys); i += maxKeys {
		end := i + maxKeys
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end:end])
	}
	return chunks
}

// Batches partitions keys and numbers the chunks 1..n. The total count is
// known before any batch is numbered.
func Batches(keys []tek.Key, start, end time.Time, region string, maxKeys int) []Batch {
	chunks := Partition(keys, maxKeys)
	out := make([]Batch, len(chunks))
	for i, c := range chunks {
		out[i] = Batch{
			Keys:      c,
			BatchNum:  i + 1,
			BatchSize: len(chunks),
			Start:     start,
			End:       end,
			Region:    region,
		}
	}
	return out
}

// Message returns the export body for b. infos lists the keys that will sign
// the archive and may be empty.
func (b Batch) Message(infos ...exportpb.SignatureInfo) *exportpb.Export {
	return &exportpb.Export{
		StartTimestamp: uint64(b.Start.UnixMilli()),
		EndTimestamp:   uint64(b.End.UnixMilli()),
		Region:         b.Region,
		BatchNum:       int32(b.BatchNum),
		BatchSize:      int32(b.BatchSize),
		SignatureInfos: infos,
		Keys:           b.Keys,
	}
}

// MarshalBin returns the export.bin contents for b.
func MarshalBin(b Batch, infos ...exportpb.SignatureInfo) []byte {
	body := b.Message(infos...).Marshal()
	out := make([]byte, 0, len(Header)+len(body))
	out = append(out, Header...)
	return append(out, body...)
}

// MarshalBatch builds the zip archive for b. With a nil signer the
// signature entry is written empty.
func MarshalBatch(ctx context.Context, b Batch, signer signing.Signer) ([]byte, error) {
	var (
		bin []byte
		sig []byte
	)
	if signer == nil {
		bin = MarshalBin(b)
	} else {
		info := signer.Info()
		bin = MarshalBin(b, info)
		s, err := signer.Sign(ctx, bin)
		if err != nil {
			return nil, fmt.Errorf("sign: %w", err)
		}
		list := exportpb.SignatureList{Signatures: []exportpb.Signature{{
			SignatureInfo: info,
			BatchNum:      int32(b.BatchNum),
			BatchSize:     int32(b.BatchSize),
			Signature:     s,
		}}}
		sig = list.Marshal()
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range []struct {
		name string
		data []byte
	}{{ExportEntry, bin}, {SignatureEntry, sig}} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("zip %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}
	return buf.Bytes(), nil
}
