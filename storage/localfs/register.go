package localfs

import (
	"flag"
	"fmt"

	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/registry"
)

var flagDir string

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "Local directory (one file per export archive)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagDir, "localfs-dir", "", "Output directory (for --backend=localfs)")
		},
		Open: func() (storage.Store, func() error, error) {
			if flagDir == "" {
				return nil, nil, fmt.Errorf("missing --localfs-dir")
			}
			s, err := New(flagDir)
			return s, nil, err
		},
		OpenWithConfig: func(cfg map[string]string) (storage.Store, func() error, error) {
			dir := cfg["localfs-dir"]
			if dir == "" {
				return nil, nil, fmt.Errorf("localfs: missing config key %q", "localfs-dir")
			}
			s, err := New(dir)
			return s, nil, err
		},
	})
}
