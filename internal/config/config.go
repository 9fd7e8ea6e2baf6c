// Package config is the service's runtime configuration: a YAML file with
// defaults, validation, and atomic writes, adapted from the teacher's own
// internal/config package. EnsureFile never fails startup on a missing or
// corrupt file; it falls back to defaults with a recorded warning.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	renameRetryBaseDelay     = 10 * time.Millisecond

	maxValidPort = 65535
)

// defaultConfigDirFn is a test seam.
var defaultConfigDirFn = defaultConfigDir
var userHomeDirFn = os.UserHomeDir

// Config is the service's runtime configuration.
type Config struct {
	// HTTPAddr is the listen address for the REST/WS server (hook endpoint,
	// session/pane API, /ws/terminal/{id}, /metrics).
	HTTPAddr string `yaml:"http_addr" json:"http_addr"`

	// MuxBin is the mux executable name or absolute path (passed to
	// muxdriver.New). Empty means "tmux" resolved from $PATH.
	MuxBin string `yaml:"mux_bin" json:"mux_bin"`

	// SecretDenyList overrides the fixed secret-env deny-list muxdriver
	// scrubs from every new session. Empty/nil keeps the built-in list.
	SecretDenyList []string `yaml:"secret_deny_list,omitempty" json:"secret_deny_list,omitempty"`

	// DefaultCols, DefaultRows are loaded, defaulted and saved, but nothing
	// reads them: new mux sessions are sized by muxdriver's own
	// DefaultCols/DefaultRows constants (120x30).
	DefaultCols int `yaml:"default_cols" json:"default_cols"`
	DefaultRows int `yaml:"default_rows" json:"default_rows"`

	// ReconcileInterval is how often the background reconciler pass runs
	// after the one guaranteed at startup. 0 disables the periodic pass.
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`

	// PurgeAfterDays is how long a dead, untouched session survives before
	// the reconciler hard-deletes it.
	PurgeAfterDays int `yaml:"purge_after_days" json:"purge_after_days"`

	// DatabasePath is the sqlite file the store opens. ":memory:" is valid
	// for tests but loses all state on process exit.
	DatabasePath string `yaml:"database_path" json:"database_path"`
}

// DefaultConfig returns the configuration used when no file exists and as
// the baseline that a partially-specified file is merged onto.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:          "127.0.0.1:7890",
		MuxBin:            "tmux",
		DefaultCols:       120,
		DefaultRows:       30,
		ReconcileInterval: 10 * time.Minute,
		PurgeAfterDays:    7,
		DatabasePath:      DefaultDatabasePath(),
	}
}

// DefaultPath resolves the config file path: $XDG_CONFIG_HOME, falling back
// to ~/.config, and finally to os.TempDir() if the home directory can't be
// resolved. The temp-dir fallback is not a stable location across restarts.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[config] using temp dir as config path fallback", "error", err)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "summitflow-term", "config.yaml")
}

// DefaultDatabasePath resolves the sqlite file path alongside the config
// file's directory, so both land under the same operator-visible location.
func DefaultDatabasePath() string {
	return filepath.Join(filepath.Dir(DefaultPath()), "summitflow-term.db")
}

// Load reads the config file. A missing file returns defaults, not an
// error; a corrupt file returns defaults plus the parse error so the
// caller can decide whether to treat it as fatal (EnsureFile does not).
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[config] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}

	applyDefaults(&cfg)
	validatePort(&cfg)
	validateDatabasePath(&cfg)
	return cfg, nil
}

// EnsureFile loads path, writing the defaults file if none exists yet.
// Never returns a fatal error for a missing/corrupt file: on parse
// failure it logs a warning and proceeds with defaults so the service can
// still start.
func EnsureFile(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		slog.Warn("[config] ensure file: using defaults after load error", "path", path, "error", err)
		cfg = DefaultConfig()
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			slog.Warn("[config] failed to write default config file", "path", path, "error", err)
		}
	}
	return cfg
}

// Save validates cfg, fills defaults, and atomically writes it to path.
// Returns the normalized config actually written.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	validatePort(&cfg)
	validateDatabasePath(&cfg)

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[config] config saved", "path", path)
	return cfg, nil
}

// applyDefaults fills zero-valued fields from DefaultConfig, matching the
// teacher's merge-onto-defaults behavior for a partially-specified file.
// ReconcileInterval is the exception: 0 is kept (it disables the periodic
// pass) and only a negative value is replaced.
func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if isZeroConfig(*cfg) {
		*cfg = defaults
		return
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaults.HTTPAddr
	}
	if strings.TrimSpace(cfg.MuxBin) == "" {
		cfg.MuxBin = defaults.MuxBin
	}
	if cfg.DefaultCols <= 0 {
		cfg.DefaultCols = defaults.DefaultCols
	}
	if cfg.DefaultRows <= 0 {
		cfg.DefaultRows = defaults.DefaultRows
	}
	if cfg.ReconcileInterval < 0 {
		cfg.ReconcileInterval = defaults.ReconcileInterval
	}
	if cfg.PurgeAfterDays <= 0 {
		cfg.PurgeAfterDays = defaults.PurgeAfterDays
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		cfg.DatabasePath = defaults.DatabasePath
	}
}

// validatePort rejects an HTTPAddr whose port component is out of range,
// falling back to the default address with a warning rather than failing
// startup over a typo.
func validatePort(cfg *Config) {
	_, portStr, err := splitHostPort(cfg.HTTPAddr)
	if err != nil {
		return
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return
	}
	if port < 0 || port > maxValidPort {
		slog.Warn("[config] http_addr port out of range, falling back to default",
			"configured", cfg.HTTPAddr, "max", maxValidPort)
		cfg.HTTPAddr = DefaultConfig().HTTPAddr
	}
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", errors.New("no port in address")
	}
	return addr[:idx], addr[idx+1:], nil
}

// validateDatabasePath normalizes DatabasePath in place. ":memory:" is left
// untouched since it names sqlite's special in-memory database, not a path.
func validateDatabasePath(cfg *Config) {
	if cfg.DatabasePath == ":memory:" {
		return
	}
	dir := strings.TrimSpace(cfg.DatabasePath)
	if dir == "" {
		cfg.DatabasePath = DefaultConfig().DatabasePath
		return
	}
	cfg.DatabasePath = filepath.Clean(dir)
}

func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[config] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[config] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

// validateConfigPath normalizes path and enforces that writes stay inside
// the default config directory.
func validateConfigPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}
	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return filepath.Dir(DefaultPath()), nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
func pathWithinDir(path string, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func isZeroConfig(cfg Config) bool {
	return reflect.DeepEqual(cfg, Config{})
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := 0; attempt < maxRenameRetry; attempt++ {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
