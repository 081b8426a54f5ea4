package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables
const (
	EnvConfigPath   = "APILOOKUP_CONFIG"
	EnvDBPath       = "APILOOKUP_DB_PATH"
	EnvArtifactsDir = "APILOOKUP_ARTIFACTS_DIR"
	EnvCtagsBinary  = "APILOOKUP_CTAGS_BIN"
	EnvLogLevel     = "APILOOKUP_LOG_LEVEL"
)

// Config holds the apilookup configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Ctags     CtagsConfig     `yaml:"ctags"`
	Query     QueryConfig     `yaml:"query"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds index storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file (default: ctags_index.db)
}

// ArtifactsConfig holds artifact directory settings.
type ArtifactsConfig struct {
	Dir          string `yaml:"dir"`       // default: apis
	Extension    string `yaml:"extension"` // default: .ctags
	PruneMissing bool   `yaml:"prune_missing"`
}

// IndexerConfig holds sync settings.
type IndexerConfig struct {
	Workers int `yaml:"workers"` // 0 = runtime.NumCPU()
}

// CtagsConfig holds extractor settings.
type CtagsConfig struct {
	Binary string `yaml:"binary"` // default: ctags
}

// QueryConfig holds pagination and cache settings.
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
	CacheSize    int `yaml:"cache_size"`
}

// WatchConfig holds artifact directory watcher settings.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // prod, dev, local (default: prod)
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file. An empty path falls back to
// APILOOKUP_CONFIG; with neither set, defaults are used.
// Environment overrides are applied after the file.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		// Substitute env variables of the form ${VAR}
		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnvOverrides replaces fields that have a matching environment variable set.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvArtifactsDir); v != "" {
		c.Artifacts.Dir = v
	}
	if v := os.Getenv(EnvCtagsBinary); v != "" {
		c.Ctags.Binary = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "ctags_index.db"
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "apis"
	}
	if c.Artifacts.Extension == "" {
		c.Artifacts.Extension = ".ctags"
	}
	if c.Ctags.Binary == "" {
		c.Ctags.Binary = "ctags"
	}
	if c.Query.DefaultLimit <= 0 {
		c.Query.DefaultLimit = 100
	}
	if c.Query.MaxLimit <= 0 {
		c.Query.MaxLimit = 1000
	}
	if c.Query.CacheSize <= 0 {
		c.Query.CacheSize = 1024
	}
	if c.Watch.DebounceMS <= 0 {
		c.Watch.DebounceMS = 500
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "prod"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Artifacts.Extension, ".") {
		return fmt.Errorf("artifacts.extension must start with \".\", got %q", c.Artifacts.Extension)
	}
	if c.Indexer.Workers < 0 {
		return fmt.Errorf("indexer.workers must be >= 0, got %d", c.Indexer.Workers)
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit (%d) must not exceed query.max_limit (%d)",
			c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	switch c.Logging.Env {
	case "prod", "dev", "local":
		// ok
	default:
		return fmt.Errorf("logging.env must be \"prod\", \"dev\" or \"local\", got %q", c.Logging.Env)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
