package miniostore

import (
	"context"
	"flag"
	"strconv"

	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/registry"
)

var flagCfg Config

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "minio",
		Description: "S3-compatible bucket via minio-go",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagCfg.Endpoint, "minio-endpoint", "", "S3 endpoint host:port (for --backend=minio)")
			fs.StringVar(&flagCfg.AccessKey, "minio-access-key", "", "S3 access key")
			fs.StringVar(&flagCfg.SecretKey, "minio-secret-key", "", "S3 secret key")
			fs.BoolVar(&flagCfg.UseTLS, "minio-tls", true, "Use TLS for the S3 endpoint")
			fs.StringVar(&flagCfg.Bucket, "minio-bucket", "", "Destination bucket")
			fs.StringVar(&flagCfg.Prefix, "minio-prefix", "", "Object name prefix")
		},
		Open: func() (storage.Store, func() error, error) {
			return open(flagCfg)
		},
		OpenWithConfig: func(m map[string]string) (storage.Store, func() error, error) {
			cfg := Config{
				Endpoint:  m["minio-endpoint"],
				AccessKey: m["minio-access-key"],
				SecretKey: m["minio-secret-key"],
				UseTLS:    true,
				Bucket:    m["minio-bucket"],
				Prefix:    m["minio-prefix"],
			}
			if v, ok := m["minio-tls"]; ok {
				b, err := strconv.ParseBool(v)
				if err != nil {
					return nil, nil, err
				}
				cfg.UseTLS = b
			}
			return open(cfg)
		},
	})
}

func open(cfg Config) (storage.Store, func() error, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := s.EnsureBucket(context.Background()); err != nil {
		return nil, nil, err
	}
	return s, nil, nil
}
