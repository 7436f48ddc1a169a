// Package config loads the environment and file configuration consulted at
// Runtime.Start: the ARBOR_* environment variables plus an optional YAML
// file or directory named by ARBOR_CONFIG describing the workspace path,
// mount definitions, default attribute defaults, and log format/level.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvConfig binds the environment variables consulted at start. Field tags
// follow caarlos0/env/v11 conventions.
type EnvConfig struct {
	ConfigPath        string `env:"ARBOR_CONFIG"`
	TraceID           string `env:"ARBOR_TRACE_ID"`
	BacktraceEnabled  bool   `env:"ARBOR_BACKTRACE_ENABLED" envDefault:"false"`
	MemtraceBreakpoint string `env:"ARBOR_MEMTRACE_BREAKPOINT"`
	LogFormat         string `env:"ARBOR_LOGFMT" envDefault:"console"`
	BuildHome         string `env:"ARBOR_BUILD_HOME"`
	BuildTarget       string `env:"ARBOR_BUILD_TARGET"`
	BuildVersion      string `env:"ARBOR_BUILD_VERSION"`
	Home              string `env:"HOME"`
}

// LoadEnv parses the process environment into an EnvConfig.
func LoadEnv() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// MountDef describes one mount to attach at Runtime.Start from the config
// file, keyed by the concrete mount package's own settings.
type MountDef struct {
	Name     string            `yaml:"name"`
	Kind     string            `yaml:"kind"`     // discord, slack, telegram, lark, dingtalk, qq, net, sqlite, cron, ai
	From     string            `yaml:"from"`     // scope this mount anchors to
	Ownership string           `yaml:"ownership"` // remote_source | local_source | cache_owner
	Settings map[string]string `yaml:"settings"`
}

// AttributeDefaults is applied to objects declared without an explicit
// attribute mask.
type AttributeDefaults struct {
	Named      bool `yaml:"named"`
	Writable   bool `yaml:"writable"`
	Observable bool `yaml:"observable"`
	Persistent bool `yaml:"persistent"`
}

// Config is the file-based configuration loaded from ARBOR_CONFIG.
type Config struct {
	WorkspacePath      string             `yaml:"workspace_path"`
	LogLevel           string             `yaml:"log_level"`
	LogFormat          string             `yaml:"log_format"`
	Security           bool               `yaml:"security"`
	Autoload           bool               `yaml:"autoload"`
	AttributeDefaults  AttributeDefaults  `yaml:"attribute_defaults"`
	Mounts             []MountDef         `yaml:"mounts"`
}

// Default returns a Config with conservative defaults, used when
// ARBOR_CONFIG is unset; loading with no config path still succeeds.
func Default() *Config {
	return &Config{
		WorkspacePath: ".",
		LogLevel:      "info",
		LogFormat:     "console",
		Security:      false,
		Autoload:      true,
		AttributeDefaults: AttributeDefaults{
			Named:      true,
			Writable:   true,
			Observable: true,
		},
	}
}

// Load reads Config from a path that names either a single YAML file or a
// directory, in which case every *.yml/*.yaml file inside is merged, later
// files overriding earlier ones by field.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("config: read dir %s: %w", path, err)
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if !e.IsDir() && (ext == ".yml" || ext == ".yaml") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	} else {
		files = []string{path}
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", f, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", f, err)
		}
	}
	return cfg, nil
}
