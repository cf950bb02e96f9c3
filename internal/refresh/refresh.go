// Package refresh runs the pipeline with the configured feeds and catalog
// and stores each result as a snapshot.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tmusync/internal/config"
	appLog "tmusync/internal/log"
	"tmusync/internal/model"
	"tmusync/internal/pipeline"
	"tmusync/internal/portal"
	"tmusync/internal/storage"
)

// keepSnapshots bounds snapshot history.
const keepSnapshots = 50

// Store is satisfied by *storage.SQLite.
type Store interface {
	SaveSnapshot(ctx context.Context, snap *storage.Snapshot) error
	Latest(ctx context.Context) (*storage.Snapshot, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

// Service serializes refreshes; a second caller waits for the first.
type Service struct {
	cfg    *config.Config
	runner *pipeline.Runner
	store  Store

	// readPortal is swapped in tests.
	readPortal func(ctx context.Context, opts portal.TableOptions) ([]model.CatalogEntry, error)
	now        func() time.Time

	mu sync.Mutex

	hooksMu sync.Mutex
	hooks   []func(*storage.Snapshot)
}

func New(cfg *config.Config, runner *pipeline.Runner, store Store) *Service {
	return &Service{
		cfg:        cfg,
		runner:     runner,
		store:      store,
		readPortal: portal.ReadCatalog,
		now:        time.Now,
	}
}

// Catalog gathers inline, file and portal catalog entries. A failing
// source is logged and skipped so matching can still use the others.
func (s *Service) Catalog(ctx context.Context) []model.CatalogEntry {
	sources := [][]model.CatalogEntry{s.cfg.Catalog.Entries}

	if path := s.cfg.Catalog.File; path != "" {
		entries, err := portal.LoadFile(path)
		if err != nil {
			appLog.Error("catalog file unavailable", err, "path", path)
		} else {
			sources = append(sources, entries)
		}
	}

	if p := s.cfg.Catalog.Portal; p != nil && p.URL != "" {
		entries, err := s.readPortal(ctx, portal.TableOptions{
			URL:      p.URL,
			Selector: p.TableSelector,
			Timeout:  time.Duration(p.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			appLog.Error("portal catalog unavailable", err)
		} else {
			sources = append(sources, entries)
		}
	}

	return portal.Merge(sources...)
}

// Run performs one refresh without storing it.
func (s *Service) Run(ctx context.Context) (pipeline.Result, error) {
	return s.runner.Run(ctx, pipeline.Request{
		Sources:       s.cfg.FeedSources(),
		Catalog:       s.Catalog(ctx),
		Now:           s.now(),
		Location:      s.cfg.Location(),
		HorizonMonths: s.cfg.HorizonMonths,
		MaxConcurrent: s.cfg.MaxConcurrentFetches,
		Colors:        s.cfg.Colors,
	})
}

// OnRefresh registers fn to be called with every stored snapshot, whether
// the refresh came from the scheduler or the API.
func (s *Service) OnRefresh(fn func(*storage.Snapshot)) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// Refresh runs the pipeline, stores the result and notifies OnRefresh
// hooks.
func (s *Service) Refresh(ctx context.Context) (*storage.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.Run(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	snap := &storage.Snapshot{
		TakenAt:     res.GeneratedAt,
		Assignments: len(res.Assignments),
		Classes:     len(res.Classes),
		Sessions:    len(res.Sessions),
		Payload:     payload,
	}
	for _, f := range res.Failures {
		snap.Failures = append(snap.Failures, storage.FeedFailure{FeedID: f.FeedID, Stage: f.Stage, Error: f.Error})
	}

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	if n, err := s.store.Prune(ctx, keepSnapshots); err != nil {
		appLog.Error("snapshot prune failed", err)
	} else if n > 0 {
		appLog.Debug("snapshots pruned", "count", n)
	}

	appLog.Info("snapshot stored", "id", snap.ID, "failures", len(snap.Failures))

	s.hooksMu.Lock()
	hooks := append([](func(*storage.Snapshot))(nil), s.hooks...)
	s.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(snap)
	}
	return snap, nil
}

// Latest returns the most recent stored snapshot.
func (s *Service) Latest(ctx context.Context) (*storage.Snapshot, error) {
	return s.store.Latest(ctx)
}
