package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/bundle"
	"xdao.co/ekexport/storage/registry"
	"xdao.co/ekexport/storage/storeconfig"
)

type storeFlags struct {
	backend     string
	storeConfig string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.backend, "backend", "localfs", "Store backend ("+strings.Join(registry.Names(registry.UsageCLI), ", ")+")")
	fl.StringVar(&f.storeConfig, "store-config", "", "JSON or YAML multi-backend store config")
	backendFlags := flag.NewFlagSet("backends", flag.ContinueOnError)
	registry.RegisterFlags(backendFlags, registry.UsageCLI)
	fl.AddGoFlagSet(backendFlags)
}

func (f *storeFlags) open() (storage.Store, func() error, error) {
	var (
		s       storage.Store
		closeFn func() error
		err     error
	)
	if f.storeConfig != "" {
		cfg, lerr := storeconfig.LoadFile(f.storeConfig)
		if lerr != nil {
			return nil, nil, lerr
		}
		s, closeFn, err = cfg.Open(registry.UsageCLI, "")
	} else {
		s, closeFn, err = registry.Open(f.backend, registry.UsageCLI)
	}
	if err != nil {
		return nil, nil, err
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return s, closeFn, nil
}

// indexNames reads a run index object: one object name per line.
func indexNames(b []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			names = append(names, line)
		}
	}
	return names
}

func (a *app) bundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Pack export objects into a TAR bundle or unpack one into a store",
	}

	var (
		sfOut   storeFlags
		index   string
		output  string
		noIndex bool
	)
	exportCmd := &cobra.Command{
		Use:   "export [object names...]",
		Short: "Write the objects listed by --index (and any named objects) to a bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return usagef("--output is required")
			}
			if index == "" && len(args) == 0 {
				return usagef("name objects or pass --index")
			}
			store, closeFn, err := sfOut.open()
			if err != nil {
				return err
			}
			defer closeFn()

			names := append([]string(nil), args...)
			if index != "" {
				b, err := store.Get(cmd.Context(), index)
				if err != nil {
					return fmt.Errorf("read index %s: %w", index, err)
				}
				names = append(names, index)
				names = append(names, indexNames(b)...)
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			var w io.Writer = f
			var gz *gzip.Writer
			if strings.HasSuffix(output, ".gz") {
				gz = gzip.NewWriter(f)
				w = gz
			}
			if err := bundle.Export(cmd.Context(), w, store, names, bundle.ExportOptions{IncludeIndex: !noIndex}); err != nil {
				return err
			}
			if gz != nil {
				if err := gz.Close(); err != nil {
					return err
				}
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "wrote %s\n", output)
			return nil
		},
	}
	sfOut.register(exportCmd)
	exportCmd.Flags().StringVar(&index, "index", "", "Run index object whose listed archives are bundled")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Bundle file (.tar or .tar.gz)")
	exportCmd.Flags().BoolVar(&noIndex, "no-index", false, "Omit index.json from the bundle")

	var (
		sfIn          storeFlags
		ignoreUnknown bool
	)
	importCmd := &cobra.Command{
		Use:   "import <bundle>",
		Short: "Store every object of a bundle",
		Args:  exactArgs(1, "<bundle>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := sfIn.open()
			if err != nil {
				return err
			}
			defer closeFn()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			var r io.Reader = f
			if strings.HasSuffix(args[0], ".gz") {
				gz, err := gzip.NewReader(f)
				if err != nil {
					return err
				}
				defer gz.Close()
				r = gz
			}
			objs, err := bundle.Import(cmd.Context(), r, store, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
			if err != nil {
				return err
			}
			for _, o := range objs {
				fmt.Fprintf(a.out, "%s\t%s\n", o.Name, o.CID)
			}
			return nil
		},
	}
	sfIn.register(importCmd)
	importCmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "Skip unknown bundle entries")

	cmd.AddCommand(exportCmd, importCmd)
	return cmd
}
