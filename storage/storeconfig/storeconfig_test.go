package storeconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"xdao.co/ekexport/storage"
	"xdao.co/ekexport/storage/registry"
	"xdao.co/ekexport/storage/storetest"
)

func fakeOpener(opened *[]string, closed *[]string) opener {
	return func(name string, _ registry.Usage, cfg map[string]string) (storage.Store, func() error, error) {
		if name == "broken" {
			return nil, nil, errors.New("cannot open")
		}
		*opened = append(*opened, name)
		return storetest.NewMemory(), func() error {
			*closed = append(*closed, name)
			return nil
		}, nil
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, false},
		{"one", Config{Backends: []BackendConfig{{Name: "localfs"}}}, true},
		{"missing name", Config{Backends: []BackendConfig{{ID: "x"}}}, false},
		{"duplicate id", Config{Backends: []BackendConfig{{Name: "localfs"}, {Name: "localfs"}}}, false},
		{"aliased duplicates", Config{Backends: []BackendConfig{{Name: "localfs", ID: "a"}, {Name: "localfs", ID: "b"}}}, true},
		{"bad policy", Config{WritePolicy: "some", Backends: []BackendConfig{{Name: "localfs"}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate: got %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestOpenPolicies(t *testing.T) {
	var opened, closed []string
	cfg := Config{WritePolicy: WriteAll, Backends: []BackendConfig{{Name: "a"}, {Name: "b"}}}
	s, closeFn, err := cfg.open(registry.UsageCLI, "", fakeOpener(&opened, &closed))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.(storage.Replicating); !ok {
		t.Fatalf("WriteAll: got %T want storage.Replicating", s)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(closed) != 2 || closed[0] != "b" {
		t.Fatalf("closers must run in reverse order, got %v", closed)
	}

	cfg.WritePolicy = ""
	s, _, err = cfg.open(registry.UsageCLI, "b", fakeOpener(&opened, &closed))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := s.(storage.Multi); !ok {
		t.Fatalf("default policy: got %T want storage.Multi", s)
	}
	if opened[len(opened)-2] != "b" {
		t.Fatalf("preferred backend must be opened first, got %v", opened)
	}
}

func TestOpenClosesOnFailure(t *testing.T) {
	var opened, closed []string
	cfg := Config{Backends: []BackendConfig{{Name: "a"}, {Name: "broken"}}}
	if _, _, err := cfg.open(registry.UsageCLI, "", fakeOpener(&opened, &closed)); err == nil {
		t.Fatalf("expected open failure")
	}
	if len(closed) != 1 || closed[0] != "a" {
		t.Fatalf("already opened backends must be closed, got %v", closed)
	}
}

func TestLoadFileYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "store.yaml")
	if err := os.WriteFile(yamlPath, []byte("write_policy: all\nbackends:\n  - name: localfs\n    config:\n      localfs-dir: /tmp/x\n  - name: gcs\n    id: mirror\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadFile yaml: %v", err)
	}
	if cfg.WritePolicy != WriteAll || len(cfg.Backends) != 2 || cfg.Backends[0].Config["localfs-dir"] != "/tmp/x" || cfg.Backends[1].ID != "mirror" {
		t.Fatalf("unexpected yaml config: %+v", cfg)
	}

	jsonPath := filepath.Join(dir, "store.json")
	if err := os.WriteFile(jsonPath, []byte(`{"backends":[{"name":"localfs"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(jsonPath); err != nil {
		t.Fatalf("LoadFile json: %v", err)
	}
}
