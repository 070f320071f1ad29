package grpcstore

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/registry"
)

// DefaultMaxMsgBytes fits a full 750k-key export archive.
const DefaultMaxMsgBytes = 64 << 20

var (
	flagTarget      string
	flagTimeout     time.Duration
	flagMaxMsgBytes int
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "gRPC object store client (talks to ekexport-stored)",
		Usage:       registry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagTarget, "grpc-target", "", "gRPC target host:port (for --backend=grpc)")
			fs.DurationVar(&flagTimeout, "grpc-timeout", 0, "Per-RPC timeout (for --backend=grpc)")
			fs.IntVar(&flagMaxMsgBytes, "grpc-max-msg-bytes", DefaultMaxMsgBytes, "Max gRPC message size in bytes (send+recv)")
		},
		Open: func() (storage.Store, func() error, error) {
			return open(flagTarget, flagTimeout, flagMaxMsgBytes)
		},
		OpenWithConfig: func(cfg map[string]string) (storage.Store, func() error, error) {
			timeout := time.Duration(0)
			if v := cfg["grpc-timeout"]; v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpcstore: grpc-timeout: %w", err)
				}
				timeout = d
			}
			maxMsg := DefaultMaxMsgBytes
			if v := cfg["grpc-max-msg-bytes"]; v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpcstore: grpc-max-msg-bytes: %w", err)
				}
				maxMsg = n
			}
			return open(cfg["grpc-target"], timeout, maxMsg)
		},
	})
}

func open(target string, timeout time.Duration, maxMsg int) (storage.Store, func() error, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, nil, fmt.Errorf("missing --grpc-target")
	}
	client, err := Dial(target, DialOptions{MaxMsgBytes: maxMsg})
	if err != nil {
		return nil, nil, err
	}
	client.Timeout = timeout
	return client, client.Close, nil
}
