package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tmusync/internal/ics"
	"tmusync/internal/model"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if diff := cmp.Diff(os.FileMode(0o600), info.Mode().Perm()); diff != "" {
		t.Errorf("perm (-want +got):\n%s", diff)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if diff := cmp.Diff(cfg, again); diff != "" {
		t.Errorf("reload (-first +second):\n%s", diff)
	}
}

func TestLoadNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
log_level: DEBUG
ics:
  - url: https://calendar.example.edu/d2l.ics
    name: d2l
  - url: https://calendar.example.edu/google.ics
catalog:
  entries:
    - key: CP8307/CPS843
      title: Intro to Computer Vision
  portal:
    url: https://portal.example.edu/timetable
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff("debug", cfg.LogLevel); diff != "" {
		t.Errorf("log level (-want +got):\n%s", diff)
	}
	wantSources := []ics.Source{
		{ID: "d2l", URL: "https://calendar.example.edu/d2l.ics"},
		{ID: "feed-2", URL: "https://calendar.example.edu/google.ics"},
	}
	if diff := cmp.Diff(wantSources, cfg.FeedSources()); diff != "" {
		t.Errorf("sources (-want +got):\n%s", diff)
	}
	wantPortal := &PortalConfig{URL: "https://portal.example.edu/timetable", TableSelector: "table", TimeoutSeconds: 30}
	if diff := cmp.Diff(wantPortal, cfg.Catalog.Portal); diff != "" {
		t.Errorf("portal (-want +got):\n%s", diff)
	}
	wantEntries := []model.CatalogEntry{{Key: "CP8307/CPS843", Title: "Intro to Computer Vision"}}
	if diff := cmp.Diff(wantEntries, cfg.Catalog.Entries); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ics.DefaultHorizonMonths, cfg.HorizonMonths); diff != "" {
		t.Errorf("horizon (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{
			name:    "bad feed url",
			mutate:  func(c *Config) { c.ICS = []ICSConfig{{ID: "x", URL: "not a url"}} },
			wantErr: "url",
		},
		{
			name:    "bad cron",
			mutate:  func(c *Config) { c.RefreshCron = "every tuesday" },
			wantErr: "refresh",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Timezone = "Mars/Olympus" },
			wantErr: "timezone",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: "log_level",
		},
		{
			name:    "horizon too large",
			mutate:  func(c *Config) { c.HorizonMonths = 60 },
			wantErr: "horizon_months",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate: want error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("refresh: \"nope\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load: want error for invalid cron")
	}
}
