// Package config loads the YAML description of an export job.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"xdao.co/ekexport/storage/storeconfig"
)

const (
	// DefaultMaxKeysPerBatch matches the GAEN reference export server.
	DefaultMaxKeysPerBatch = 750000
	DefaultIndexFile       = "index.txt"
)

// Config is one export job.
//
//	region: GB
//	keys_file: keys.json
//	start: 2026-10-18T00:00:00Z
//	end: 2026-10-19T00:00:00Z
//	output:
//	  backends:
//	    - name: localfs
//	      config: {localfs-dir: ./out}
//	signer:
//	  key: gaen
//	  key_id: "310"
//	  key_version: v1
type Config struct {
	Region          string    `yaml:"region"`
	KeysFile        string    `yaml:"keys_file"`
	MaxKeysPerBatch int       `yaml:"max_keys_per_batch,omitempty"`
	Start           time.Time `yaml:"start"`
	End             time.Time `yaml:"end"`

	// Prefix is the directory archives are written under. Defaults to Region.
	Prefix    string `yaml:"prefix,omitempty"`
	IndexFile string `yaml:"index_file,omitempty"`

	// SkipValidation writes keys without checking them first.
	SkipValidation bool `yaml:"skip_validation,omitempty"`

	Output storeconfig.Config `yaml:"output"`
	Signer *Signer            `yaml:"signer,omitempty"`
	Kafka  *Kafka             `yaml:"kafka,omitempty"`
}

// Signer selects a key from the local key store.
type Signer struct {
	// KeyStore defaults to ~/.ekexport/keys.
	KeyStore string `yaml:"key_store,omitempty"`
	Key      string `yaml:"key"`
	// KeyRegion selects a derived Ed25519 region key.
	KeyRegion  string `yaml:"key_region,omitempty"`
	KeyID      string `yaml:"key_id"`
	KeyVersion string `yaml:"key_version"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.MaxKeysPerBatch == 0 {
		c.MaxKeysPerBatch = DefaultMaxKeysPerBatch
	}
	if c.IndexFile == "" {
		c.IndexFile = DefaultIndexFile
	}
	if c.Prefix == "" {
		c.Prefix = c.Region
	}
}

// Validate reports every problem with c. Start and End are not
// compared; they are written as given.
func (c *Config) Validate() error {
	var errs []error
	if c.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if c.KeysFile == "" {
		errs = append(errs, errors.New("keys_file is required"))
	}
	if c.MaxKeysPerBatch <= 0 {
		errs = append(errs, fmt.Errorf("max_keys_per_batch must be positive, got %d", c.MaxKeysPerBatch))
	}
	if err := c.Output.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}
	if c.Signer != nil && c.Signer.Key == "" {
		errs = append(errs, errors.New("signer.key is required when signer is set"))
	}
	if c.Kafka != nil && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
