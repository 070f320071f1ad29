package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"xdao.co/ekexport/keys"
	"xdao.co/ekexport/signing"
)

func (a *app) keyCmd() *cobra.Command {
	var keyStore string
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage export signing keys",
	}
	cmd.PersistentFlags().StringVar(&keyStore, "key-store", "", "Key store directory (default ~/.ekexport/keys)")
	open := func() (*keys.KeyStore, error) { return keys.Open(keyStore) }

	var (
		initName string
		seedHex  string
		ed       bool
		pq       bool
		hashAlg  string
		force    bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create an ECDSA P-256 key, an Ed25519 root seed with --ed25519, or a Dilithium3 key with --dilithium3",
		Args:  exactArgs(0, "--name <name> [--ed25519 [--seed-hex <64hex>] | --dilithium3 [--hash <alg>]] [--force]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if initName == "" {
				return usagef("--name is required")
			}
			if seedHex != "" && !ed {
				return usagef("--seed-hex requires --ed25519")
			}
			if ed && pq {
				return usagef("--ed25519 and --dilithium3 are mutually exclusive")
			}
			if cmd.Flags().Changed("hash") && !pq {
				return usagef("--hash requires --dilithium3")
			}
			ks, err := open()
			if err != nil {
				return err
			}
			var pub, path string
			switch {
			case pq:
				pub, path, err = ks.InitDilithium3(initName, hashAlg, force)
			case ed:
				seed := make([]byte, ed25519.SeedSize)
				if seedHex != "" {
					if seed, err = keys.ParseSeedHex(seedHex); err != nil {
						return usagef("--seed-hex: %v", err)
					}
				} else if _, err := rand.Read(seed); err != nil {
					return err
				}
				pub, path, err = ks.InitSeed(initName, seed, force)
			default:
				pub, path, err = ks.InitECDSA(initName, force)
			}
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, ensureNewline(pub))
			fmt.Fprintf(a.errOut, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&initName, "name", "", "Key name")
	initCmd.Flags().BoolVar(&ed, "ed25519", false, "Store an Ed25519 root seed instead of an ECDSA key")
	initCmd.Flags().BoolVar(&pq, "dilithium3", false, "Create a Dilithium3 key (not accepted by GAEN devices)")
	initCmd.Flags().StringVar(&hashAlg, "hash", signing.HashSHA256, "Digest signed by a Dilithium3 key: sha256, sha512 or sha3-256")
	initCmd.Flags().StringVar(&seedHex, "seed-hex", "", "32-byte Ed25519 seed as hex (random if empty)")
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key")

	var from, region string
	var deriveForce bool
	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a per-region Ed25519 key from a root seed",
		Args:  exactArgs(0, "--from <name> --region <region> [--force]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || region == "" {
				return usagef("--from and --region are required")
			}
			ks, err := open()
			if err != nil {
				return err
			}
			pub, path, err := ks.DeriveRegion(from, region, deriveForce)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, pub)
			fmt.Fprintf(a.errOut, "wrote %s\n", path)
			return nil
		},
	}
	deriveCmd.Flags().StringVar(&from, "from", "", "Root seed name")
	deriveCmd.Flags().StringVar(&region, "region", "", "Region code")
	deriveCmd.Flags().BoolVar(&deriveForce, "force", false, "Overwrite an existing region key")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		Args:  exactArgs(0, ""),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := open()
			if err != nil {
				return err
			}
			entries, err := ks.List()
			if err != nil {
				return err
			}
			for _, e := range entries {
				if len(e.Regions) == 0 {
					fmt.Fprintf(a.out, "%s\t%s\n", e.Name, e.Kind)
					continue
				}
				fmt.Fprintf(a.out, "%s\t%s\t%s\n", e.Name, e.Kind, strings.Join(e.Regions, ","))
			}
			return nil
		},
	}

	var exportName, exportRegion string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Print the public key for a stored key",
		Args:  exactArgs(0, "--name <name> [--region <region>]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if exportName == "" {
				return usagef("--name is required")
			}
			ks, err := open()
			if err != nil {
				return err
			}
			pub, err := ks.PublicKey(exportName, exportRegion)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, ensureNewline(pub))
			return nil
		},
	}
	exportCmd.Flags().StringVar(&exportName, "name", "", "Key name")
	exportCmd.Flags().StringVar(&exportRegion, "region", "", "Derived region key")

	cmd.AddCommand(initCmd, deriveCmd, listCmd, exportCmd)
	return cmd
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
