// Package job runs one end-to-end key export: load keys, write signed
// batches, write the run index and announce the files.
package job

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xdao.co/ekexport/config"
	"xdao.co/ekexport/export"
	"xdao.co/ekexport/notify"
	"xdao.co/ekexport/signing"
	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/tek"
)

// Deps are the collaborators a run writes through.
type Deps struct {
	Store storage.Store
	// Signer is optional; without it archives are unsigned.
	Signer    signing.Signer
	Publisher notify.Publisher
	Logger    *zap.Logger
}

// Result describes a finished run.
type Result struct {
	RunID string
	Keys  int
	Files []export.File
	// Index is the zero Object when no files were written.
	Index storage.Object
}

// Namer returns the archive namer for cfg: "<prefix>/<start>-<end>-<batch>.zip".
func Namer(cfg *config.Config) export.Namer {
	return func(b export.Batch) string {
		return fmt.Sprintf("%s/%d-%d-%05d.zip", cfg.Prefix, b.Start.UnixMilli(), b.End.UnixMilli(), b.BatchNum)
	}
}

// IndexName is the object the run index is written to. It is scoped to the
// export window so objects stay immutable across runs.
func IndexName(cfg *config.Config) string {
	return path.Join(cfg.Prefix, fmt.Sprintf("%d-%d-%s", cfg.Start.UnixMilli(), cfg.End.UnixMilli(), cfg.IndexFile))
}

// LoadKeys reads a JSON key file and validates it unless skipValidation.
func LoadKeys(file string, skipValidation bool) ([]tek.Key, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("job: read keys: %w", err)
	}
	keys, err := tek.DecodeKeys(b)
	if err != nil {
		return nil, fmt.Errorf("job: %s: %w", file, err)
	}
	if !skipValidation {
		if err := tek.ValidateAll(keys); err != nil {
			return nil, fmt.Errorf("job: %s: %w", file, err)
		}
	}
	return keys, nil
}

// Run executes cfg. Keys keep their file order. Events are published only
// after every archive and the index have been written.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Result, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	pub := deps.Publisher
	if pub == nil {
		pub = notify.Nop{}
	}
	res := &Result{RunID: uuid.NewString()}
	log = log.With(zap.String("run_id", res.RunID), zap.String("region", cfg.Region))

	keys, err := LoadKeys(cfg.KeysFile, cfg.SkipValidation)
	if err != nil {
		return res, err
	}
	res.Keys = len(keys)
	if deps.Signer == nil {
		log.Warn("no signer configured; archives will be unsigned")
	}

	w := export.NewWriter(deps.Store,
		export.WithSigner(deps.Signer),
		export.WithNamer(Namer(cfg)),
		export.WithLogger(log),
	)
	res.Files, err = w.WriteForKeys(ctx, keys, cfg.Start, cfg.End, cfg.Region, cfg.MaxKeysPerBatch)
	if err != nil {
		log.Error("export failed", zap.Int("written", len(res.Files)), zap.Error(err))
		return res, err
	}
	if len(res.Files) == 0 {
		log.Info("no keys to export")
		return res, nil
	}

	names := make([]string, len(res.Files))
	for i, f := range res.Files {
		names[i] = f.Name
	}
	res.Index, err = deps.Store.Put(ctx, IndexName(cfg), []byte(strings.Join(names, "\n")+"\n"))
	if err != nil {
		return res, fmt.Errorf("job: write index: %w", err)
	}

	events := make([]notify.Event, len(res.Files))
	for i, f := range res.Files {
		events[i] = notify.NewEvent(res.RunID, cfg.Region, cfg.Start, cfg.End, w.Signed(), f)
	}
	if err := pub.Publish(ctx, events...); err != nil {
		return res, fmt.Errorf("job: %w", err)
	}

	log.Info("export complete",
		zap.Int("keys", res.Keys),
		zap.Int("files", len(res.Files)),
		zap.String("index", res.Index.Name),
	)
	return res, nil
}
