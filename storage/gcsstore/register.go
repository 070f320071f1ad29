package gcsstore

import (
	"context"
	"flag"

	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/registry"
)

var flagCfg Config

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "gcs",
		Description: "Google Cloud Storage bucket",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagCfg.Bucket, "gcs-bucket", "", "Destination bucket (for --backend=gcs)")
			fs.StringVar(&flagCfg.Prefix, "gcs-prefix", "", "Object name prefix")
			fs.StringVar(&flagCfg.Endpoint, "gcs-endpoint", "", "Override API endpoint (emulators); disables auth")
			fs.StringVar(&flagCfg.CacheControl, "gcs-cache-control", "", "Cache-Control for new objects")
		},
		Open: func() (storage.Store, func() error, error) {
			return open(flagCfg)
		},
		OpenWithConfig: func(m map[string]string) (storage.Store, func() error, error) {
			return open(Config{
				Bucket:       m["gcs-bucket"],
				Prefix:       m["gcs-prefix"],
				Endpoint:     m["gcs-endpoint"],
				CacheControl: m["gcs-cache-control"],
			})
		},
	})
}

func open(cfg Config) (storage.Store, func() error, error) {
	s, err := New(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
