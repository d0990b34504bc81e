package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/playperu/snapbooth/internal/database"
	"github.com/playperu/snapbooth/internal/migrations"
)

// ClientLookup tells the registry which client slugs exist.
type ClientLookup interface {
	ClientExists(ctx context.Context, slug string) (bool, error)
}

// Registry opens one database per client on first use. A dir of
// database.MemoryPath keeps every client in memory.
type Registry struct {
	dir      string
	lookup   ClientLookup
	notifier Notifier
	logger   *slog.Logger

	mu     sync.RWMutex
	stores map[string]*DocStore
}

func NewRegistry(dir string, lookup ClientLookup, notifier Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dir:      dir,
		lookup:   lookup,
		notifier: notifier,
		logger:   logger,
		stores:   make(map[string]*DocStore),
	}
}

// Get returns the store of an existing client.
func (r *Registry) Get(ctx context.Context, slug string) (*DocStore, error) {
	r.mu.RLock()
	s, ok := r.stores[slug]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	exists, err := r.lookup.ClientExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if s, ok := r.stores[slug]; ok {
		return s, nil
	}
	return r.openLocked(ctx, slug)
}

// Create opens, and migrates, the store of a new client.
func (r *Registry) Create(ctx context.Context, slug string) (*DocStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[slug]; ok {
		return s, nil
	}
	return r.openLocked(ctx, slug)
}

func (r *Registry) openLocked(ctx context.Context, slug string) (*DocStore, error) {
	dbPath := database.MemoryPath
	if r.dir != database.MemoryPath {
		dbPath = filepath.Join(r.dir, slug+".db")
	}
	db, err := database.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening client db %q: %w", slug, err)
	}
	if err := migrations.RunTenant(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating client db %q: %w", slug, err)
	}
	s := NewDocStore(db, slug, r.notifier, r.logger)
	r.stores[slug] = s
	return s, nil
}

// Open lists the slugs with an open store.
func (r *Registry) Open() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.stores))
	for slug := range r.stores {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Check pings every open client database.
func (r *Registry) Check(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for slug, s := range r.stores {
		if err := s.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", slug, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for slug, s := range r.stores {
		s.db.Close()
		delete(r.stores, slug)
	}
	return nil
}
