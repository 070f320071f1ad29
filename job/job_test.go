package job

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

	"github.com/google/go-cmp/cmp"

	"xdao.co/ekexport/config"
	"xdao.co/ekexport/export"
	"xdao.co/ekexport/exportpb"
	"xdao.co/ekexport/keys"
	"xdao.co/ekexport/notify"
	"xdao.co/ekexport/storage/registry"
	"xdao.co/ekexport/storage/storeconfig"
	"xdao.co/ekexport/storage/storetest"
	"xdao.co/ekexport/tek"

	_ "xdao.co/ekexport/storage/localfs"
)

type recordingPublisher struct {
	events []notify.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...notify.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func writeKeys(t *testing.T, n int) (string, []tek.Key) {
	t.Helper()
	ks := make([]tek.Key, n)
	for i := range ks {
		ks[i] = tek.Key{
			KeyData:                    bytes.Repeat([]byte{byte(i + 1)}, tek.KeyLength),
			RollingStartIntervalNumber: 2650000 + uint32(i),
			RollingPeriod:              144,
			TransmissionRiskLevel:      4,
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
	return path, ks
}

func testConfig(keysFile string, maxKeys int) *config.Config {
	cfg := &config.Config{
		Region:          "GB",
		KeysFile:        keysFile,
		MaxKeysPerBatch: maxKeys,
		Start:           time.UnixMilli(1234),
		End:             time.UnixMilli(5678),
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestRun(t *testing.T) {
	keysFile, want := writeKeys(t, 5)
	cfg := testConfig(keysFile, 2)
	m := storetest.NewMemory()
	pub := &recordingPublisher{}

	res, err := Run(context.Background(), cfg, Deps{Store: m, Publisher: pub})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Keys != 5 || len(res.Files) != 3 {
		t.Fatalf("result: keys=%d files=%d", res.Keys, len(res.Files))
	}
	wantNames := []string{"GB/1234-5678-00001.zip", "GB/1234-5678-00002.zip", "GB/1234-5678-00003.zip", "GB/1234-5678-index.txt"}
	if diff := cmp.Diff(wantNames, m.Names()); diff != "" {
		t.Fatalf("stored names (-want +got):\n%s", diff)
	}

	index, err := m.Get(context.Background(), IndexName(cfg))
	if err != nil {
		t.Fatalf("Get index: %v", err)
	}
	if got := string(index); got != strings.Join(wantNames[:3], "\n")+"\n" {
		t.Fatalf("index contents: %q", got)
	}

	var got []tek.Key
	for _, f := range res.Files {
		b, _ := m.Get(context.Background(), f.Name)
		a, err := export.ReadArchive(b)
		if err != nil {
			t.Fatalf("ReadArchive: %v", err)
		}
		got = append(got, a.Export.Keys...)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}

	if len(pub.events) != 3 {
		t.Fatalf("events: got %d want 3", len(pub.events))
	}
	for i, e := range pub.events {
		if e.RunID != res.RunID || e.Name != res.Files[i].Name || e.Signed || e.StartTimestamp != 1234 {
			t.Fatalf("event %d: %+v", i, e)
		}
	}
}

func TestRunEmptyKeys(t *testing.T) {
	keysFile, _ := writeKeys(t, 0)
	m := storetest.NewMemory()
	pub := &recordingPublisher{}
	res, err := Run(context.Background(), testConfig(keysFile, 10), Deps{Store: m, Publisher: pub})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Files) != 0 || len(m.Names()) != 0 || len(pub.events) != 0 {
		t.Fatalf("empty input must produce nothing: %+v stored=%v events=%d", res, m.Names(), len(pub.events))
	}
}

func TestRunRejectsInvalidKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	if err := os.WriteFile(path, []byte(`[{"key":"AAAA","rollingStartNumber":1,"rollingPeriod":144}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	m := storetest.NewMemory()
	_, err := Run(context.Background(), testConfig(path, 10), Deps{Store: m})
	if !tek.IsKind(err, tek.KindKeyData) {
		t.Fatalf("got %v want key data error", err)
	}
	if len(m.Names()) != 0 {
		t.Fatalf("nothing should be written")
	}

	cfg := testConfig(path, 10)
	cfg.SkipValidation = true
	if _, err := Run(context.Background(), cfg, Deps{Store: m}); err != nil {
		t.Fatalf("Run with SkipValidation: %v", err)
	}
}

func TestRunPublishFailure(t *testing.T) {
	keysFile, _ := writeKeys(t, 1)
	boom := errors.New("broker down")
	res, err := Run(context.Background(), testConfig(keysFile, 10), Deps{Store: storetest.NewMemory(), Publisher: &recordingPublisher{err: boom}})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v want %v", err, boom)
	}
	if len(res.Files) != 1 || res.Index.Name == "" {
		t.Fatalf("files and index should be reported even when publishing fails: %+v", res)
	}
}

func TestOpenDepsSignedLocalfs(t *testing.T) {
	keyDir := t.TempDir()
	ks, err := keys.Open(keyDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ks.InitECDSA("gaen", false); err != nil {
		t.Fatal(err)
	}

	keysFile, _ := writeKeys(t, 3)
	outDir := t.TempDir()
	cfg := testConfig(keysFile, 2)
	cfg.Output = storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: "localfs", Config: map[string]string{"localfs-dir": outDir}}}}
	cfg.Signer = &config.Signer{KeyStore: keyDir, Key: "gaen", KeyID: "310", KeyVersion: "v1"}

	deps, closeFn, err := OpenDeps(cfg, OutputStore(cfg, registry.UsageCLI), nil)
	if err != nil {
		t.Fatalf("OpenDeps: %v", err)
	}
	defer closeFn()

	res, err := Run(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	v, err := ks.LoadVerifier("gaen", "", exportpb.SignatureInfo{VerificationKeyID: "310", VerificationKeyVersion: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range res.Files {
		b, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(f.Name)))
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		a, err := export.ReadArchive(b)
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Verify(v); err != nil {
			t.Fatalf("Verify %s: %v", f.Name, err)
		}
	}
}
