package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/ekexport/export"
	"xdao.co/ekexport/exportpb"
	"xdao.co/ekexport/keys"
	"xdao.co/ekexport/signing"
)

func readArchiveFile(path string) (*export.Archive, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return export.ReadArchive(b)
}

func (a *app) inspectCmd() *cobra.Command {
	var showKeys bool
	cmd := &cobra.Command{
		Use:   "inspect <archive.zip>",
		Short: "Print the contents of an export archive",
		Args:  exactArgs(1, "<archive.zip>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := readArchiveFile(args[0])
			if err != nil {
				return err
			}
			e := ar.Export
			fmt.Fprintf(a.out, "region:      %s\n", e.Region)
			fmt.Fprintf(a.out, "start:       %d (%s)\n", e.StartTimestamp, time.UnixMilli(int64(e.StartTimestamp)).UTC().Format(time.RFC3339))
			fmt.Fprintf(a.out, "end:         %d (%s)\n", e.EndTimestamp, time.UnixMilli(int64(e.EndTimestamp)).UTC().Format(time.RFC3339))
			fmt.Fprintf(a.out, "batch:       %d/%d\n", e.BatchNum, e.BatchSize)
			fmt.Fprintf(a.out, "keys:        %d\n", len(e.Keys))
			if len(e.RevisedKeys) > 0 {
				fmt.Fprintf(a.out, "revised:     %d\n", len(e.RevisedKeys))
			}
			for _, s := range ar.Signatures.Signatures {
				fmt.Fprintf(a.out, "signature:   id=%s version=%s alg=%s batch=%d/%d\n",
					s.SignatureInfo.VerificationKeyID, s.SignatureInfo.VerificationKeyVersion,
					s.SignatureInfo.SignatureAlgorithm, s.BatchNum, s.BatchSize)
			}
			if !ar.Signed() {
				fmt.Fprintln(a.out, "signature:   none")
			}
			if showKeys {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(e.Keys)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showKeys, "keys", false, "Also print the keys as JSON")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var (
		publicKey  string
		keyStore   string
		keyName    string
		keyRegion  string
		keyID      string
		keyVersion string
	)
	cmd := &cobra.Command{
		Use:   "verify <archive.zip>",
		Short: "Verify the signature of an export archive",
		Args:  exactArgs(1, "<archive.zip>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := exportpb.SignatureInfo{VerificationKeyID: keyID, VerificationKeyVersion: keyVersion}
			var v signing.Verifier
			switch {
			case publicKey != "" && keyName != "":
				return usagef("use only one of --public-key and --key")
			case publicKey != "":
				b, err := os.ReadFile(publicKey)
				if err != nil {
					return err
				}
				pub, err := signing.ParseECDSAPublicKeyPEM(b)
				if err != nil {
					return err
				}
				if v, err = signing.NewECDSAVerifier(pub, info); err != nil {
					return err
				}
			case keyName != "":
				ks, err := keys.Open(keyStore)
				if err != nil {
					return err
				}
				if v, err = ks.LoadVerifier(keyName, keyRegion, info); err != nil {
					return err
				}
			default:
				return usagef("one of --public-key or --key is required")
			}

			ar, err := readArchiveFile(args[0])
			if err != nil {
				return err
			}
			if err := ar.Verify(v); err != nil {
				if errors.Is(err, signing.ErrInvalidSignature) {
					a.log.Warn("signature mismatch", zap.String("file", args[0]), zap.String("key_id", keyID))
				}
				return err
			}
			fmt.Fprintf(a.out, "OK %s (key id %q)\n", args[0], keyID)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&publicKey, "public-key", "", "PEM ECDSA P-256 public key")
	fl.StringVar(&keyStore, "key-store", "", "Key store directory (default ~/.ekexport/keys)")
	fl.StringVar(&keyName, "key", "", "Key name in the key store")
	fl.StringVar(&keyRegion, "key-region", "", "Derived region key of --key")
	fl.StringVar(&keyID, "key-id", "", "verification_key_id the signature must carry")
	fl.StringVar(&keyVersion, "key-version", "", "verification_key_version")
	return cmd
}
