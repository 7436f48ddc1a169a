package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	t.Setenv("ARBOR_CONFIG", "/tmp/arbor.yaml")
	t.Setenv("ARBOR_LOGFMT", "json")
	t.Setenv("ARBOR_BACKTRACE_ENABLED", "true")

	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if cfg.ConfigPath != "/tmp/arbor.yaml" {
		t.Errorf("config path = %q", cfg.ConfigPath)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("log format = %q, want json", cfg.LogFormat)
	}
	if !cfg.BacktraceEnabled {
		t.Error("backtrace flag not parsed")
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("ARBOR_LOGFMT", "")
	os.Unsetenv("ARBOR_LOGFMT")
	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	if cfg.LogFormat != "console" {
		t.Errorf("default log format = %q, want console", cfg.LogFormat)
	}
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" || !cfg.Autoload {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.yaml")
	content := `
log_level: debug
security: true
mounts:
  - name: db
    kind: sqlite
    from: /data
    ownership: cache_owner
    settings:
      dsn: file:test.db
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || !cfg.Security {
		t.Errorf("parsed = %+v", cfg)
	}
	if len(cfg.Mounts) != 1 {
		t.Fatalf("mounts = %d, want 1", len(cfg.Mounts))
	}
	m := cfg.Mounts[0]
	if m.Kind != "sqlite" || m.From != "/data" || m.Settings["dsn"] != "file:test.db" {
		t.Errorf("mount def = %+v", m)
	}
}

func TestLoadDirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "10-base.yaml"), []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "20-override.yaml"), []byte("log_level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("log level = %q, want the later file's override", cfg.LogLevel)
	}
}

func TestLoadMissingPathFails(t *testing.T) {
	if _, err := Load("/no/such/path.yaml"); err == nil {
		t.Error("expected an error for a missing config path")
	}
}
