package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// EVENTDESK_BASE_URL.
const EnvPrefix = "EVENTDESK_"

// DefaultBaseURL is the events backend used when nothing else is configured.
const DefaultBaseURL = "http://localhost:3000"

// CacheConfig tunes the query cache defaults.
type CacheConfig struct {
	// StaleTime is how long the served calendar feed counts as fresh. Zero
	// keeps the built-in window of the feed.
	StaleTime time.Duration `yaml:"stale_time" json:"stale_time" env:"CACHE_STALE_TIME"`
	// GCTime is how long an unobserved entry is retained before eviction.
	GCTime time.Duration `yaml:"gc_time" json:"gc_time" env:"CACHE_GC_TIME"`
	// Sweep is the cron schedule of the retention sweep (e.g. "@every 1m").
	Sweep string `yaml:"sweep" json:"sweep" env:"CACHE_SWEEP"`
	// Refresh is the cron schedule that refetches stale, observed queries
	// in watch mode. Empty disables periodic refresh.
	Refresh string `yaml:"refresh" json:"refresh" env:"CACHE_REFRESH"`
}

// ImportConfig controls ICS import.
type ImportConfig struct {
	// Timezone is the IANA zone used to turn imported instants into the
	// backend's date/time strings.
	Timezone string `yaml:"timezone" json:"timezone" env:"IMPORT_TIMEZONE"`
	// HorizonDays bounds recurrence expansion into the future.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days" env:"IMPORT_HORIZON_DAYS"`
	// BackfillDays includes occurrences that started this many days ago.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days" env:"IMPORT_BACKFILL_DAYS"`
	// MaxOccurrences caps the expansion of a single recurring event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences" env:"IMPORT_MAX_OCCURRENCES"`
	// CacheDir stores ETag/Last-Modified metadata of subscription URLs.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" env:"IMPORT_CACHE_DIR"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the watch-mode
// HTTP surface. Auth is enabled only when both fields are set.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" env:"BASIC_AUTH_USERNAME"`
	Password string `yaml:"password" json:"password" env:"BASIC_AUTH_PASSWORD"`
}

// Enabled reports whether both credentials are present.
func (b BasicAuthConfig) Enabled() bool {
	return b.Username != "" && b.Password != ""
}

// Config is the top-level application configuration.
type Config struct {
	// BaseURL is the events backend root, without trailing slash.
	BaseURL string `yaml:"base_url" json:"base_url" env:"BASE_URL"`

	// Listen is the HTTP listen address used by the watch command.
	Listen string `yaml:"listen" json:"listen" env:"LISTEN"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`

	// HTTPTimeout bounds every backend call.
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout" env:"HTTP_TIMEOUT"`

	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Import    ImportConfig    `yaml:"import" json:"import"`
	BasicAuth BasicAuthConfig `yaml:"basic_auth" json:"basic_auth"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Listen:      "127.0.0.1:8080",
		LogLevel:    "INFO",
		HTTPTimeout: 15 * time.Second,
		Cache: CacheConfig{
			StaleTime: 0,
			GCTime:    5 * time.Minute,
			Sweep:     "@every 1m",
			Refresh:   "@every 30s",
		},
		Import: ImportConfig{
			Timezone:       "Local",
			HorizonDays:    90,
			BackfillDays:   0,
			MaxOccurrences: 500,
			CacheDir:       "./var/ics-cache",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	for len(c.BaseURL) > 0 && c.BaseURL[len(c.BaseURL)-1] == '/' {
		c.BaseURL = c.BaseURL[:len(c.BaseURL)-1]
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
	if c.Cache.StaleTime < 0 {
		c.Cache.StaleTime = 0
	}
	if c.Cache.GCTime <= 0 {
		c.Cache.GCTime = def.Cache.GCTime
	}
	if c.Cache.Sweep == "" {
		c.Cache.Sweep = def.Cache.Sweep
	}
	if c.Import.Timezone == "" {
		c.Import.Timezone = def.Import.Timezone
	}
	if c.Import.HorizonDays <= 0 {
		c.Import.HorizonDays = def.Import.HorizonDays
	}
	if c.Import.BackfillDays < 0 {
		c.Import.BackfillDays = 0
	}
	if c.Import.MaxOccurrences <= 0 {
		c.Import.MaxOccurrences = def.Import.MaxOccurrences
	}
	if c.Import.CacheDir == "" {
		c.Import.CacheDir = def.Import.CacheDir
	}
}

// Location resolves Import.Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Import.Timezone == "" || c.Import.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Import.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ApplyEnv overlays EVENTDESK_* environment variables onto cfg.
// Variables that are not set leave the current value untouched.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	return nil
}

// Load loads configuration from the given YAML path and applies
// environment overrides.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - continue with the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - Environment overrides are applied last and are never written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, fmt.Errorf("write default config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventdesk-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
