package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"xdao.co/ekexport/internal/logging"
	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/grpcstore"
	"xdao.co/ekexport/storage/registry"
	"xdao.co/ekexport/storage/storeconfig"

	_ "xdao.co/ekexport/storage/gcsstore"
	_ "xdao.co/ekexport/storage/localfs"
	_ "xdao.co/ekexport/storage/miniostore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	listen       string
	backend      string
	storeConfig  string
	maxMsgBytes  int
	listBackends bool
	verbose      bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:           "ekexport-stored",
		Short:         "Serve an export object store over gRPC",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.listBackends {
				for _, b := range registry.List(registry.UsageDaemon) {
					fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
				}
				return nil
			}
			log, err := logging.New(o.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			store, closeFn, err := openStore(o)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}

			lis, err := net.Listen("tcp", o.listen)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), lis, store, o.maxMsgBytes, log)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&o.listen, "listen", "127.0.0.1:7777", "Listen address")
	fl.StringVar(&o.backend, "backend", "localfs", "Backing store ("+strings.Join(registry.Names(registry.UsageDaemon), ", ")+")")
	fl.StringVar(&o.storeConfig, "store-config", "", "JSON or YAML multi-backend store config (overrides --backend)")
	fl.IntVar(&o.maxMsgBytes, "max-msg-bytes", grpcstore.DefaultMaxMsgBytes, "Max gRPC message size in bytes")
	fl.BoolVar(&o.listBackends, "list-backends", false, "List supported backends and exit")
	fl.BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging")

	backendFlags := flag.NewFlagSet("backends", flag.ContinueOnError)
	registry.RegisterFlags(backendFlags, registry.UsageDaemon)
	fl.AddGoFlagSet(backendFlags)
	return cmd
}

func openStore(o *options) (storage.Store, func() error, error) {
	if o.storeConfig != "" {
		cfg, err := storeconfig.LoadFile(o.storeConfig)
		if err != nil {
			return nil, nil, err
		}
		return cfg.Open(registry.UsageDaemon, "")
	}
	return registry.Open(o.backend, registry.UsageDaemon)
}

// serve runs the gRPC server on lis until ctx is done, then drains
// in-flight calls.
func serve(ctx context.Context, lis net.Listener, store storage.Store, maxMsgBytes int, log *zap.Logger) error {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgBytes),
		grpc.MaxSendMsgSize(maxMsgBytes),
	)
	grpcstore.RegisterObjectStoreServer(s, &grpcstore.Server{Store: store, Logger: log})

	log.Info("ekexport-stored listening", zap.String("addr", lis.Addr().String()))
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(lis) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		s.GracefulStop()
		if err := <-errc; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	}
}
