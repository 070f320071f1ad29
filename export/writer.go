package export

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"xdao.co/ekexport/signing"
	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/tek"
)

// File describes one written export archive.
type File struct {
	Name      string
	Location  string
	CID       cid.Cid
	Size      int64
	BatchNum  int
	BatchSize int
}

// Namer chooses the store object name for a batch.
type Namer func(Batch) string

// DefaultNamer names batches "<region>/<start>-<end>-<batchNum>.zip" with
// epoch-millisecond bounds and a zero-padded batch number.
func DefaultNamer(b Batch) string {
	return fmt.Sprintf("%s/%d-%d-%05d.zip", b.Region, b.Start.UnixMilli(), b.End.UnixMilli(), b.BatchNum)
}

type Option func(*Writer)

// WithSigner signs every archive with s. A nil s, including a nil pointer
// of a concrete signer type, leaves archives unsigned.
func WithSigner(s signing.Signer) Option {
	return func(w *Writer) {
		if v := reflect.ValueOf(s); s == nil || (v.Kind() == reflect.Pointer && v.IsNil()) {
			w.signer = nil
			return
		}
		w.signer = s
	}
}

func WithNamer(n Namer) Option {
	return func(w *Writer) {
		if n != nil {
			w.namer = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

// Writer encodes key batches and writes them to a store.
// A Writer holds no per-call state and may be reused.
type Writer struct {
	store  storage.Store
	signer signing.Signer
	namer  Namer
	log    *zap.Logger
}

func NewWriter(store storage.Store, opts ...Option) *Writer {
	w := &Writer{store: store, namer: DefaultNamer, log: zap.NewNop()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Signed reports whether archives from w carry a signature.
func (w *Writer) Signed() bool { return w.signer != nil }

// WriteForKeys splits keys into batches of at most maxKeysPerBatch, encodes
// each batch and writes one archive per batch, in batch order.
//
// Empty input produces no files. maxKeysPerBatch <= 0 panics. On the first
// encode, sign or write failure the remaining batches are abandoned and the
// files already written are returned with the error. ctx is checked before
// each batch.
func (w *Writer) WriteForKeys(ctx context.Context, keys []tek.Key, start, end time.Time, region string, maxKeysPerBatch int) ([]File, error) {
	batches := Batches(keys, start, end, region, maxKeysPerBatch)
	files := make([]File, 0, len(batches))
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return files, fmt.Errorf("export: batch %d/%d: %w", b.BatchNum, b.BatchSize, err)
		}
		data, err := MarshalBatch(ctx, b, w.signer)
		if err != nil {
			return files, fmt.Errorf("export: batch %d/%d: %w", b.BatchNum, b.BatchSize, err)
		}
		name := w.namer(b)
		obj, err := w.store.Put(ctx, name, data)
		if err != nil {
			return files, fmt.Errorf("export: batch %d/%d: write %s: %w", b.BatchNum, b.BatchSize, name, err)
		}
		w.log.Debug("wrote export batch",
			zap.String("name", obj.Name),
			zap.String("cid", obj.CID.String()),
			zap.Int("batch_num", b.BatchNum),
			zap.Int("batch_size", b.BatchSize),
			zap.Int("keys", len(b.Keys)),
			zap.Int64("bytes", obj.Size),
		)
		files = append(files, File{
			Name:      obj.Name,
			Location:  obj.Location,
			CID:       obj.CID,
			Size:      obj.Size,
			BatchNum:  b.BatchNum,
			BatchSize: b.BatchSize,
		})
	}
	return files, nil
}
