package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"coachcal/internal/atomicfile"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the control API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CalendarConfig describes the ICS-directory calendar store.
type CalendarConfig struct {
	// Dir holds index.yaml and one .ics file per calendar.
	Dir string `yaml:"dir" json:"dir"`

	// ContainerName is the title of the calendar reserved for synced
	// sessions.
	ContainerName string `yaml:"container_name" json:"container_name"`

	// Access is the authorization policy of the store:
	//   - "prompt" (default): ask once on the terminal, remember the answer
	//   - "granted", "denied", "restricted"
	Access string `yaml:"access" json:"access"`
}

// MappingConfig selects where the session-to-event table lives.
type MappingConfig struct {
	// Backend is "file" (JSON, default) or "sqlite".
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

// SyncConfig controls background reconciliation in serve mode.
type SyncConfig struct {
	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *").
	// "off" disables periodic passes.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// TimeoutSeconds bounds one pass.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	// Watch reconciles when the schedule file changes.
	Watch bool `yaml:"watch" json:"watch"`
}

// LogConfig controls the logger. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the control API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone sessions are placed in. "Local" uses
	// the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// SchedulePath is the planned-session file.
	SchedulePath string `yaml:"schedule_path" json:"schedule_path"`

	// StatePath holds the enablement flag, calendar id and last sync time.
	StatePath string `yaml:"state_path" json:"state_path"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Mapping  MappingConfig  `yaml:"mapping" json:"mapping"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Log      LogConfig      `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultContainerName = "Coach Training"
	defaultRefreshCron   = "*/15 * * * *"
	defaultTimeout       = 60
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{Sync: SyncConfig{Watch: true}}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.SchedulePath == "" {
		c.SchedulePath = "schedule.yaml"
	}
	if c.StatePath == "" {
		c.StatePath = "state.yaml"
	}

	if c.Calendar.Dir == "" {
		c.Calendar.Dir = "calendar"
	}
	if strings.TrimSpace(c.Calendar.ContainerName) == "" {
		c.Calendar.ContainerName = defaultContainerName
	}
	switch c.Calendar.Access {
	case "prompt", "granted", "denied", "restricted":
	default:
		c.Calendar.Access = "prompt"
	}

	switch c.Mapping.Backend {
	case "file", "sqlite":
	default:
		c.Mapping.Backend = "file"
	}
	if c.Mapping.Path == "" {
		if c.Mapping.Backend == "sqlite" {
			c.Mapping.Path = "mapping.db"
		} else {
			c.Mapping.Path = "mapping.json"
		}
	}

	if c.Sync.RefreshCron == "" {
		c.Sync.RefreshCron = defaultRefreshCron
	}
	if c.Sync.TimeoutSeconds <= 0 {
		c.Sync.TimeoutSeconds = defaultTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 28
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SyncTimeout is the per-pass deadline.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSeconds) * time.Second
}

// ResolvePaths makes every relative path absolute against base, normally
// the directory holding the config file. It returns a copy.
func (c Config) ResolvePaths(base string) Config {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.SchedulePath = abs(c.SchedulePath)
	c.StatePath = abs(c.StatePath)
	c.Calendar.Dir = abs(c.Calendar.Dir)
	c.Mapping.Path = abs(c.Mapping.Path)
	c.Log.File = abs(c.Log.File)
	return c
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and defaults are filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save normalizes cfg and writes it atomically with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(path, data, 0o600)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
