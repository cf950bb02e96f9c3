package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve on minimal hosts

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"tmusync/internal/ics"
	"tmusync/internal/model"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// PortalConfig points at a rendered timetable page whose table lists the
// student's courses.
type PortalConfig struct {
	URL            string `yaml:"url" json:"url" validate:"required,url"`
	TableSelector  string `yaml:"table_selector" json:"table_selector"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gte=0"`
}

// CatalogConfig lists where the authoritative course catalog comes from.
// All configured sources are merged.
type CatalogConfig struct {
	File    string               `yaml:"file,omitempty" json:"file,omitempty"`
	Entries []model.CatalogEntry `yaml:"entries,omitempty" json:"entries,omitempty"`
	Portal  *PortalConfig        `yaml:"portal,omitempty" json:"portal,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone is the IANA zone that defines "today" for the classifier.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a standard five-field cron schedule.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"required"`

	// HorizonMonths bounds concrete session expansion.
	HorizonMonths int `yaml:"horizon_months" json:"horizon_months" validate:"gte=1,lte=24"`

	FetchTimeoutSeconds  int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds" validate:"gte=1"`
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" json:"max_concurrent_fetches" validate:"gte=1"`

	// CacheDir holds conditional-GET feed caches; empty disables caching.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Database is the SQLite path for refresh snapshots.
	Database string `yaml:"database" json:"database" validate:"required"`

	LogLevel string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info error"`

	// Colors overrides the course colour rotation.
	Colors []string `yaml:"colors,omitempty" json:"colors,omitempty"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics" validate:"dive"`

	Catalog CatalogConfig `yaml:"catalog" json:"catalog"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               "127.0.0.1:8080",
		Timezone:             "America/Toronto",
		RefreshCron:          "0 */6 * * *",
		HorizonMonths:        ics.DefaultHorizonMonths,
		FetchTimeoutSeconds:  int(ics.DefaultFetchTimeout / time.Second),
		MaxConcurrentFetches: 4,
		CacheDir:             "./var/ics-cache",
		Database:             "./var/tmusync.db",
		LogLevel:             "info",
		ICS:                  []ICSConfig{},
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.HorizonMonths <= 0 {
		c.HorizonMonths = def.HorizonMonths
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = def.FetchTimeoutSeconds
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = def.MaxConcurrentFetches
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			if c.ICS[i].Name != "" {
				c.ICS[i].ID = c.ICS[i].Name
			} else {
				c.ICS[i].ID = fmt.Sprintf("feed-%d", i+1)
			}
		}
	}
	if p := c.Catalog.Portal; p != nil {
		if p.TableSelector == "" {
			p.TableSelector = "table"
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 30
		}
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report YAML field names in errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints, the cron schedule and the timezone.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("invalid config: refresh %q: %w", c.RefreshCron, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// FetchTimeout is the per-feed fetch bound.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// FeedSources converts the configured subscriptions for the fetcher.
func (c *Config) FeedSources() []ics.Source {
	out := make([]ics.Source, 0, len(c.ICS))
	for _, f := range c.ICS {
		if f.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: f.ID, URL: f.URL})
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, normalized and validated.
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
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".tmusync-config-*.tmp")
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
