// Package bundle moves named export objects between stores as a single
// deterministic TAR file, for example to ship one run's archives to an
// offline CDN origin.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"xdao.co/ekexport/storage"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 1

const (
	indexEntry    = "index.json"
	objectsPrefix = "objects/"
)

var epoch0 = time.Unix(0, 0).UTC()

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// IncludeIndex writes index.json (names, CIDs and sizes) as the first entry.
	IncludeIndex bool
}

// Export writes a TAR bundle holding the named objects from store.
//
// The bundle bytes are deterministic: entries are sorted by name and TAR
// headers are normalized. Every object is checked against the CID of the
// bytes the store returned.
func Export(ctx context.Context, w io.Writer, store storage.Store, names []string, opts ExportOptions) error {
	if store == nil {
		return fmt.Errorf("bundle: nil store")
	}

	uniq := make(map[string]struct{}, len(names))
	for _, n := range names {
		if err := storage.CheckName(n); err != nil {
			return fmt.Errorf("bundle: %q: %w", n, err)
		}
		uniq[n] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for n := range uniq {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	payloads := make([][]byte, len(sorted))
	idx := indexJSON{Version: FormatVersion, CIDCodec: "raw", Multihash: "sha2-256"}
	for i, n := range sorted {
		b, err := store.Get(ctx, n)
		if err != nil {
			return fmt.Errorf("bundle: get %s: %w", n, err)
		}
		id, err := storage.ObjectCID(b)
		if err != nil {
			return err
		}
		payloads[i] = b
		idx.Objects = append(idx.Objects, indexObject{Name: n, CID: id.String(), Size: len(b)})
	}

	tw := tar.NewWriter(w)
	if opts.IncludeIndex {
		b, err := json.Marshal(idx)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if err := writeFile(tw, indexEntry, append(b, '\n')); err != nil {
			_ = tw.Close()
			return err
		}
	}
	for i, n := range sorted {
		if err := writeFile(tw, objectsPrefix+n, payloads[i]); err != nil {
			_ = tw.Close()
			return err
		}
	}
	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown skips unknown TAR entries instead of failing.
	IgnoreUnknown bool
}

// Import reads a bundle from r and puts every object into store. It returns
// the stored objects in bundle order.
//
// When the bundle has an index, each object must match the CID recorded for
// it and every indexed object must be present.
func Import(ctx context.Context, r io.Reader, store storage.Store, opts ImportOptions) ([]storage.Object, error) {
	if store == nil {
		return nil, fmt.Errorf("bundle: nil store")
	}

	tr := tar.NewReader(r)
	var (
		index map[string]indexObject
		seen  = map[string]struct{}{}
		out   []storage.Object
	)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return out, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return out, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		if name == indexEntry {
			if len(seen) > 0 || index != nil {
				return out, fmt.Errorf("bundle: index.json must be the first entry")
			}
			if index, err = readIndex(tr); err != nil {
				return out, err
			}
			continue
		}
		if !strings.HasPrefix(name, objectsPrefix) {
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return out, fmt.Errorf("bundle: unknown entry: %s", name)
		}

		objName := strings.TrimPrefix(name, objectsPrefix)
		if _, ok := seen[objName]; ok {
			return out, fmt.Errorf("bundle: duplicate object entry: %s", objName)
		}
		seen[objName] = struct{}{}

		payload, err := io.ReadAll(tr)
		if err != nil {
			return out, err
		}
		if index != nil {
			want, ok := index[objName]
			if !ok {
				return out, fmt.Errorf("bundle: object %s missing from index", objName)
			}
			got, err := storage.ObjectCID(payload)
			if err != nil {
				return out, err
			}
			if got.String() != want.CID {
				return out, fmt.Errorf("bundle: %s: %w", objName, storage.ErrCIDMismatch)
			}
		}

		obj, err := store.Put(ctx, objName, payload)
		if err != nil {
			return out, fmt.Errorf("bundle: put %s: %w", objName, err)
		}
		out = append(out, obj)
	}

	for n := range index {
		if _, ok := seen[n]; !ok {
			return out, fmt.Errorf("bundle: indexed object %s not in bundle", n)
		}
	}
	return out, nil
}

type indexJSON struct {
	Version   int           `json:"version"`
	CIDCodec  string        `json:"cidCodec"`
	Multihash string        `json:"multihash"`
	Objects   []indexObject `json:"objects"`
}

type indexObject struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

func readIndex(r io.Reader) (map[string]indexObject, error) {
	var idx indexJSON
	if err := json.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("bundle: index.json: %w", err)
	}
	if idx.Version != FormatVersion {
		return nil, fmt.Errorf("bundle: unsupported index version %d", idx.Version)
	}
	m := make(map[string]indexObject, len(idx.Objects))
	for _, o := range idx.Objects {
		m[o.Name] = o
	}
	return m, nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
