package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"xdao.co/ekexport/config"
	"xdao.co/ekexport/job"
	"xdao.co/ekexport/storage/registry"
	"xdao.co/ekexport/storage/storeconfig"
)

type exportFlags struct {
	configFile     string
	keysFile       string
	region         string
	start          string
	end            string
	maxKeys        int
	prefix         string
	indexFile      string
	skipValidation bool

	store storeFlags

	keyStore   string
	signer     string
	keyRegion  string
	keyID      string
	keyVersion string

	kafkaBrokers string
	kafkaTopic   string
}

// parseTime accepts RFC 3339 or epoch milliseconds.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}

func (f *exportFlags) jobConfig() (*config.Config, error) {
	if f.configFile != "" {
		return config.Load(f.configFile)
	}
	start, err := parseTime(f.start)
	if err != nil {
		return nil, usagef("--start: %v", err)
	}
	end, err := parseTime(f.end)
	if err != nil {
		return nil, usagef("--end: %v", err)
	}
	cfg := &config.Config{
		Region:          f.region,
		KeysFile:        f.keysFile,
		MaxKeysPerBatch: f.maxKeys,
		Start:           start,
		End:             end,
		Prefix:          f.prefix,
		IndexFile:       f.indexFile,
		SkipValidation:  f.skipValidation,
	}
	if f.store.storeConfig != "" {
		sc, err := storeconfig.LoadFile(f.store.storeConfig)
		if err != nil {
			return nil, err
		}
		cfg.Output = sc
	} else {
		// Backend values come from the parsed backend flags.
		cfg.Output = storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: f.store.backend}}}
	}
	if f.signer != "" {
		cfg.Signer = &config.Signer{KeyStore: f.keyStore, Key: f.signer, KeyRegion: f.keyRegion, KeyID: f.keyID, KeyVersion: f.keyVersion}
	}
	if f.kafkaBrokers != "" || f.kafkaTopic != "" {
		brokers := strings.FieldsFunc(f.kafkaBrokers, func(r rune) bool { return r == ',' })
		cfg.Kafka = &config.Kafka{Brokers: brokers, Topic: f.kafkaTopic}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, usageError{err}
	}
	return cfg, nil
}

func (a *app) exportCmd() *cobra.Command {
	f := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write signed export archives for a key file",
		Long: `Splits the keys in a JSON key file into batches, writes one zip archive
per batch plus an index listing them, and optionally announces each file
on Kafka. Settings come from --config or from flags.`,
		Args: exactArgs(0, "[flags]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.jobConfig()
			if err != nil {
				return err
			}
			opener := job.OutputStore(cfg, registry.UsageCLI)
			if f.configFile == "" {
				opener = f.store.open
			}
			return a.runExport(cmd.Context(), cfg, opener)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", "", "YAML job config (overrides the job flags below)")
	fl.StringVar(&f.keysFile, "keys", "", "JSON key file")
	fl.StringVar(&f.region, "region", "", "Region code written to every archive")
	fl.StringVar(&f.start, "start", "", "Window start (RFC 3339 or epoch ms)")
	fl.StringVar(&f.end, "end", "", "Window end (RFC 3339 or epoch ms)")
	fl.IntVar(&f.maxKeys, "max-keys", config.DefaultMaxKeysPerBatch, "Maximum keys per archive")
	fl.StringVar(&f.prefix, "prefix", "", "Object name prefix (default: region)")
	fl.StringVar(&f.indexFile, "index-file", config.DefaultIndexFile, "Index object base name")
	fl.BoolVar(&f.skipValidation, "skip-validation", false, "Write keys without validating them")
	fl.StringVar(&f.keyStore, "key-store", "", "Key store directory (default ~/.ekexport/keys)")
	fl.StringVar(&f.signer, "signer", "", "Signing key name; archives are unsigned without it")
	fl.StringVar(&f.keyRegion, "key-region", "", "Derived region key of --signer")
	fl.StringVar(&f.keyID, "key-id", "", "verification_key_id written to signatures")
	fl.StringVar(&f.keyVersion, "key-version", "", "verification_key_version written to signatures")
	fl.StringVar(&f.kafkaBrokers, "kafka-brokers", "", "Comma-separated Kafka brokers for file events")
	fl.StringVar(&f.kafkaTopic, "kafka-topic", "", "Kafka topic for file events")
	f.store.register(cmd)
	return cmd
}

// runExport reports close failures too: the Kafka writer flushes on Close.
func (a *app) runExport(ctx context.Context, cfg *config.Config, opener job.StoreOpener) (err error) {
	deps, closeFn, err := job.OpenDeps(cfg, opener, a.log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close: %w", cerr))
		}
	}()

	res, err := job.Run(ctx, cfg, deps)
	if err != nil {
		return err
	}
	for _, file := range res.Files {
		fmt.Fprintf(a.out, "%s\t%s\t%d/%d\n", file.Name, file.CID, file.BatchNum, file.BatchSize)
	}
	if res.Index.Name != "" {
		fmt.Fprintf(a.out, "%s\t%s\tindex\n", res.Index.Name, res.Index.CID)
	}
	return nil
}
