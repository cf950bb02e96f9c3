package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tmusync/internal/config"
	"tmusync/internal/ics"
	appLog "tmusync/internal/log"
	"tmusync/internal/model"
	"tmusync/internal/pipeline"
	"tmusync/internal/portal"
	"tmusync/internal/storage"
)

func init() {
	appLog.SetLevel(appLog.LevelError)
}

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:a2\r\n" +
	"SUMMARY:CPS843 Assignment 2 Due\r\n" +
	"DTSTART:20261029T235900Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newService(t *testing.T, cfg *config.Config) (*Service, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fetcher := ics.NewFetcher(nil, "", time.Second)
	svc := New(cfg, pipeline.New(fetcher), store)
	svc.now = func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestRefreshStoresSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.ics" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.ICS = []config.ICSConfig{
		{ID: "d2l", URL: srv.URL + "/d2l.ics"},
		{ID: "old", URL: srv.URL + "/broken.ics"},
	}
	cfg.Catalog.Entries = []model.CatalogEntry{{Key: "CP8307/CPS843", Title: "Intro to Computer Vision"}}
	svc, _ := newService(t, cfg)

	snap, err := svc.Refresh(t.Context())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if diff := cmp.Diff(1, snap.Assignments); diff != "" {
		t.Errorf("assignments (-want +got):\n%s", diff)
	}
	if len(snap.Failures) != 1 || snap.Failures[0].FeedID != "old" || snap.Failures[0].Stage != "fetch" {
		t.Errorf("failures = %+v", snap.Failures)
	}
	if strings.Contains(snap.Failures[0].Error, srv.URL) {
		t.Errorf("failure leaks feed URL: %q", snap.Failures[0].Error)
	}

	latest, err := svc.Latest(t.Context())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if diff := cmp.Diff(snap.ID, latest.ID); diff != "" {
		t.Errorf("latest id (-want +got):\n%s", diff)
	}

	var res pipeline.Result
	if err := json.Unmarshal(latest.Payload, &res); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(res.Assignments) != 1 || !res.Assignments[0].IsMatchedToCatalog {
		t.Errorf("payload assignments = %+v", res.Assignments)
	}
}

func TestRefreshNotifiesHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.ICS = []config.ICSConfig{{ID: "d2l", URL: srv.URL + "/d2l.ics"}}
	svc, _ := newService(t, cfg)

	var seen []int64
	svc.OnRefresh(func(snap *storage.Snapshot) { seen = append(seen, snap.ID) })

	var want []int64
	for range 2 {
		snap, err := svc.Refresh(t.Context())
		if err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		want = append(want, snap.ID)
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("notified snapshots (-want +got):\n%s", diff)
	}
}

func TestRefreshFailureSkipsHooks(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	svc, _ := newService(t, cfg)

	called := false
	svc.OnRefresh(func(*storage.Snapshot) { called = true })

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := svc.Refresh(ctx); err == nil {
		t.Fatal("expected an error from a cancelled refresh")
	}
	if called {
		t.Error("hook called for a refresh that stored nothing")
	}
}

func TestCatalogMergesSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "courses:\n  - key: MTH110\n    title: Discrete Math I\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Catalog = config.CatalogConfig{
		File:    path,
		Entries: []model.CatalogEntry{{Key: "CPS843", Title: "Vision"}},
		Portal:  &config.PortalConfig{URL: "https://portal.example.edu/timetable"},
	}
	svc, _ := newService(t, cfg)
	svc.readPortal = func(_ context.Context, opts portal.TableOptions) ([]model.CatalogEntry, error) {
		if opts.URL != "https://portal.example.edu/timetable" {
			t.Errorf("portal url = %q", opts.URL)
		}
		return []model.CatalogEntry{{Key: "POL507", Title: "Politics of Cities"}}, nil
	}

	want := []model.CatalogEntry{
		{Key: "CPS843", Title: "Vision"},
		{Key: "MTH110", Title: "Discrete Math I"},
		{Key: "POL507", Title: "Politics of Cities"},
	}
	if diff := cmp.Diff(want, svc.Catalog(t.Context())); diff != "" {
		t.Errorf("catalog (-want +got):\n%s", diff)
	}

	svc.readPortal = func(context.Context, portal.TableOptions) ([]model.CatalogEntry, error) {
		return nil, errors.New("login wall")
	}
	if diff := cmp.Diff(want[:2], svc.Catalog(t.Context())); diff != "" {
		t.Errorf("catalog without portal (-want +got):\n%s", diff)
	}
}
