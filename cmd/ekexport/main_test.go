package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"xdao.co/ekexport/config"
	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/storetest"
	"xdao.co/ekexport/tek"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeKeyFile(t *testing.T, n int) string {
	t.Helper()
	ks := make([]tek.Key, n)
	for i := range ks {
		ks[i] = tek.Key{
			KeyData:                    bytes.Repeat([]byte{byte(i + 1)}, tek.KeyLength),
			RollingStartIntervalNumber: 2650000,
			RollingPeriod:              144,
			TransmissionRiskLevel:      1,
		}
	}
	b, err := json.Marshal(ks)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUsageErrors(t *testing.T) {
	if code, _, _ := runCLI(t, "inspect"); code != 2 {
		t.Fatalf("inspect without file: exit %d want 2", code)
	}
	if code, _, _ := runCLI(t, "export", "--no-such-flag"); code != 2 {
		t.Fatalf("unknown flag: exit %d want 2", code)
	}
	if code, _, _ := runCLI(t, "verify", "x.zip"); code != 2 {
		t.Fatalf("verify without key: exit %d want 2", code)
	}
}

func TestBackends(t *testing.T) {
	code, out, errOut := runCLI(t, "backends")
	if code != 0 {
		t.Fatalf("backends: exit %d: %s", code, errOut)
	}
	for _, name := range []string{"gcs", "grpc", "localfs", "minio"} {
		if !strings.Contains(out, name) {
			t.Fatalf("backends output missing %q:\n%s", name, out)
		}
	}
}

func TestKeyExportInspectVerify(t *testing.T) {
	keyDir := t.TempDir()
	outDir := t.TempDir()

	code, pub, errOut := runCLI(t, "key", "init", "--key-store", keyDir, "--name", "gaen")
	if code != 0 {
		t.Fatalf("key init: exit %d: %s", code, errOut)
	}
	if !strings.Contains(pub, "BEGIN PUBLIC KEY") {
		t.Fatalf("key init output: %q", pub)
	}
	pubFile := filepath.Join(t.TempDir(), "pub.pem")
	if err := os.WriteFile(pubFile, []byte(pub), 0o644); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, "export",
		"--keys", writeKeyFile(t, 3),
		"--region", "GB",
		"--start", "1234",
		"--end", "5678",
		"--max-keys", "2",
		"--backend", "localfs",
		"--localfs-dir", outDir,
		"--key-store", keyDir,
		"--signer", "gaen",
		"--key-id", "310",
		"--key-version", "v1",
	)
	if code != 0 {
		t.Fatalf("export: exit %d: %s", code, errOut)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "GB/1234-5678-00001.zip\t") || !strings.HasSuffix(lines[2], "\tindex") {
		t.Fatalf("export output:\n%s", out)
	}
	archive := filepath.Join(outDir, "GB", "1234-5678-00001.zip")

	code, out, errOut = runCLI(t, "inspect", archive)
	if code != 0 {
		t.Fatalf("inspect: exit %d: %s", code, errOut)
	}
	for _, want := range []string{"region:      GB", "start:       1234", "batch:       1/2", "keys:        2", "id=310"} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}

	if code, _, errOut := runCLI(t, "verify", "--public-key", pubFile, "--key-id", "310", archive); code != 0 {
		t.Fatalf("verify --public-key: exit %d: %s", code, errOut)
	}
	if code, _, errOut := runCLI(t, "verify", "--key-store", keyDir, "--key", "gaen", "--key-id", "310", archive); code != 0 {
		t.Fatalf("verify --key: exit %d: %s", code, errOut)
	}
	if code, _, _ := runCLI(t, "verify", "--public-key", pubFile, "--key-id", "999", archive); code != 1 {
		t.Fatalf("verify with wrong key id: exit %d want 1", code)
	}
}

func TestDilithium3KeyExportVerify(t *testing.T) {
	keyDir := t.TempDir()
	outDir := t.TempDir()

	code, pub, errOut := runCLI(t, "key", "init", "--key-store", keyDir, "--name", "pq", "--dilithium3", "--hash", "sha3-256")
	if code != 0 {
		t.Fatalf("key init --dilithium3: exit %d: %s", code, errOut)
	}
	if !strings.HasPrefix(pub, "dilithium3:") {
		t.Fatalf("key init output: %q", pub)
	}
	code, out, errOut := runCLI(t, "export",
		"--keys", writeKeyFile(t, 2),
		"--region", "GB",
		"--start", "1234",
		"--end", "5678",
		"--backend", "localfs",
		"--localfs-dir", outDir,
		"--key-store", keyDir,
		"--signer", "pq",
		"--key-id", "pq-1",
	)
	if code != 0 {
		t.Fatalf("export: exit %d: %s", code, errOut)
	}
	if !strings.HasPrefix(out, "GB/1234-5678-00001.zip\t") {
		t.Fatalf("export output:\n%s", out)
	}
	archive := filepath.Join(outDir, "GB", "1234-5678-00001.zip")
	if code, _, errOut := runCLI(t, "verify", "--key-store", keyDir, "--key", "pq", "--key-id", "pq-1", archive); code != 0 {
		t.Fatalf("verify --key: exit %d: %s", code, errOut)
	}

	code, out, _ = runCLI(t, "key", "list", "--key-store", keyDir)
	if code != 0 || strings.TrimSpace(out) != "pq\tdilithium3" {
		t.Fatalf("key list: exit %d:\n%s", code, out)
	}
	if code, _, _ := runCLI(t, "key", "init", "--key-store", keyDir, "--name", "x", "--ed25519", "--dilithium3"); code != 2 {
		t.Fatalf("--ed25519 with --dilithium3: exit %d want 2", code)
	}
	if code, _, _ := runCLI(t, "key", "init", "--key-store", keyDir, "--name", "x", "--hash", "sha512"); code != 2 {
		t.Fatalf("--hash without --dilithium3: exit %d want 2", code)
	}
}

func TestRunExportReportsCloseError(t *testing.T) {
	cfg := &config.Config{
		Region:          "GB",
		KeysFile:        writeKeyFile(t, 2),
		MaxKeysPerBatch: 10,
		Start:           time.UnixMilli(1234),
		End:             time.UnixMilli(5678),
	}
	cfg.ApplyDefaults()
	m := storetest.NewMemory()
	flushErr := errors.New("flush failed")
	opener := func() (storage.Store, func() error, error) {
		return m, func() error { return flushErr }, nil
	}

	var out bytes.Buffer
	a := &app{out: &out, errOut: &bytes.Buffer{}, log: zap.NewNop()}
	err := a.runExport(context.Background(), cfg, opener)
	if !errors.Is(err, flushErr) {
		t.Fatalf("runExport: got %v want %v", err, flushErr)
	}
	if !strings.HasPrefix(out.String(), "GB/1234-5678-00001.zip\t") {
		t.Fatalf("files should still be reported:\n%s", out.String())
	}
	if len(m.Names()) != 2 {
		t.Fatalf("stored objects: %v", m.Names())
	}
}

func TestKeyDeriveListExport(t *testing.T) {
	keyDir := t.TempDir()
	seed := strings.Repeat("11", 32)
	if code, _, errOut := runCLI(t, "key", "init", "--key-store", keyDir, "--name", "root", "--ed25519", "--seed-hex", seed); code != 0 {
		t.Fatalf("key init: exit %d: %s", code, errOut)
	}
	code, derived, errOut := runCLI(t, "key", "derive", "--key-store", keyDir, "--from", "root", "--region", "GB")
	if code != 0 {
		t.Fatalf("key derive: exit %d: %s", code, errOut)
	}
	code, out, _ := runCLI(t, "key", "list", "--key-store", keyDir)
	if code != 0 || strings.TrimSpace(out) != "root\ted25519\tGB" {
		t.Fatalf("key list: exit %d:\n%s", code, out)
	}
	code, out, _ = runCLI(t, "key", "export", "--key-store", keyDir, "--name", "root", "--region", "GB")
	if code != 0 || out != derived {
		t.Fatalf("key export: exit %d: %q want %q", code, out, derived)
	}
	if code, _, _ := runCLI(t, "key", "init", "--key-store", keyDir, "--name", "x", "--seed-hex", seed); code != 2 {
		t.Fatalf("--seed-hex without --ed25519: exit %d want 2", code)
	}
}

func TestParseTime(t *testing.T) {
	ts, err := parseTime("1234")
	if err != nil || ts.UnixMilli() != 1234 {
		t.Fatalf("epoch ms: %v %v", ts, err)
	}
	ts, err = parseTime("2026-10-18T00:00:00Z")
	if err != nil || ts.Year() != 2026 {
		t.Fatalf("rfc3339: %v %v", ts, err)
	}
	if _, err := parseTime("yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBundleRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	code, _, errOut := runCLI(t, "export",
		"--keys", writeKeyFile(t, 3),
		"--region", "GB",
		"--start", "1234",
		"--end", "5678",
		"--max-keys", "2",
		"--localfs-dir", srcDir,
	)
	if code != 0 {
		t.Fatalf("export: exit %d: %s", code, errOut)
	}

	bundleFile := filepath.Join(t.TempDir(), "run.tar.gz")
	code, _, errOut = runCLI(t, "bundle", "export", "--localfs-dir", srcDir, "--index", "GB/1234-5678-index.txt", "-o", bundleFile)
	if code != 0 {
		t.Fatalf("bundle export: exit %d: %s", code, errOut)
	}

	dstDir := t.TempDir()
	code, out, errOut := runCLI(t, "bundle", "import", "--localfs-dir", dstDir, bundleFile)
	if code != 0 {
		t.Fatalf("bundle import: exit %d: %s", code, errOut)
	}
	if n := len(strings.Split(strings.TrimSpace(out), "\n")); n != 3 {
		t.Fatalf("imported %d objects want 3:\n%s", n, out)
	}
	for _, name := range []string{"1234-5678-00001.zip", "1234-5678-00002.zip", "1234-5678-index.txt"} {
		want, err := os.ReadFile(filepath.Join(srcDir, "GB", name))
		if err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(filepath.Join(dstDir, "GB", name))
		if err != nil {
			t.Fatalf("imported %s: %v", name, err)
		}
		if !bytes.Equal(want, got) {
			t.Fatalf("%s differs after bundle round trip", name)
		}
	}
}
