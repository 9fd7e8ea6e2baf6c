package config

import (
	"path/filepath"
	"testing"
	"time"
)

func newConfigPath(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)
	original := userHomeDirFn
	userHomeDirFn = func() (string, error) { return home, nil }
	t.Cleanup(func() { userHomeDirFn = original })
	return DefaultPath()
}

func TestPathWithinDir(t *testing.T) {
	baseDir := t.TempDir()
	configDir := filepath.Join(baseDir, "config")

	tests := []struct {
		name string
		path string
		dir  string
		want bool
	}{
		{"same path", configDir, configDir, true},
		{"subdirectory", filepath.Join(configDir, "sub", "config.yaml"), configDir, true},
		{"traversal", filepath.Join(configDir, "..", "outside.yaml"), configDir, false},
		{"sibling dir", filepath.Join(baseDir, "other", "config.yaml"), configDir, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pathWithinDir(tt.path, tt.dir); got != tt.want {
				t.Errorf("pathWithinDir(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := newConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	if cfg.HTTPAddr != want.HTTPAddr || cfg.MuxBin != want.MuxBin ||
		cfg.DefaultCols != want.DefaultCols || cfg.DefaultRows != want.DefaultRows ||
		cfg.ReconcileInterval != want.ReconcileInterval || cfg.PurgeAfterDays != want.PurgeAfterDays ||
		cfg.DatabasePath != want.DatabasePath {
		t.Fatalf("got %+v, want defaults %+v", cfg, want)
	}
}

func TestEnsureFileCreatesDefaultsOnFirstRun(t *testing.T) {
	path := newConfigPath(t)

	cfg := EnsureFile(path)
	if cfg.HTTPAddr == "" {
		t.Fatal("expected a non-empty default http_addr")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after EnsureFile: %v", err)
	}
	if reloaded.HTTPAddr != cfg.HTTPAddr {
		t.Fatalf("got %+v, want %+v", reloaded, cfg)
	}
}

func TestSaveRoundTripsCustomFields(t *testing.T) {
	path := newConfigPath(t)

	cfg := DefaultConfig()
	cfg.HTTPAddr = "0.0.0.0:9999"
	cfg.PurgeAfterDays = 3
	cfg.SecretDenyList = []string{"MY_TOKEN"}

	saved, err := Save(path, cfg)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.HTTPAddr != "0.0.0.0:9999" || saved.PurgeAfterDays != 3 {
		t.Fatalf("got %+v", saved)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.HTTPAddr != "0.0.0.0:9999" || reloaded.PurgeAfterDays != 3 {
		t.Fatalf("got %+v", reloaded)
	}
	if len(reloaded.SecretDenyList) != 1 || reloaded.SecretDenyList[0] != "MY_TOKEN" {
		t.Fatalf("got deny list %+v", reloaded.SecretDenyList)
	}
}

func TestSaveRejectsPathOutsideConfigDir(t *testing.T) {
	newConfigPath(t) // seeds the expected config dir via XDG_CONFIG_HOME/HOME

	outside := filepath.Join(t.TempDir(), "elsewhere.yaml")
	if _, err := Save(outside, DefaultConfig()); err == nil {
		t.Fatal("expected an error saving outside the config directory")
	}
}

func TestApplyDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{HTTPAddr: "127.0.0.1:1234"}
	applyDefaults(&cfg)

	if cfg.MuxBin != "tmux" {
		t.Fatalf("got mux_bin %q", cfg.MuxBin)
	}
	if cfg.DefaultCols != 120 || cfg.DefaultRows != 30 {
		t.Fatalf("got size %dx%d", cfg.DefaultCols, cfg.DefaultRows)
	}
	// a zero reconcile interval means "periodic pass disabled" and is kept
	if cfg.ReconcileInterval != 0 {
		t.Fatalf("got reconcile interval %v", cfg.ReconcileInterval)
	}
	if cfg.PurgeAfterDays != 7 {
		t.Fatalf("got purge_after_days %d", cfg.PurgeAfterDays)
	}
	// the explicitly-set field must survive the merge
	if cfg.HTTPAddr != "127.0.0.1:1234" {
		t.Fatalf("got http_addr %q", cfg.HTTPAddr)
	}
}

func TestValidateDatabasePathPreservesInMemorySentinel(t *testing.T) {
	cfg := Config{DatabasePath: ":memory:"}
	validateDatabasePath(&cfg)
	if cfg.DatabasePath != ":memory:" {
		t.Fatalf("got %q", cfg.DatabasePath)
	}
}
