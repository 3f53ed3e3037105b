package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/vehicle-sync/internal/api"
	"github.com/rickgao/vehicle-sync/internal/auth"
	"github.com/rickgao/vehicle-sync/internal/cache"
	"github.com/rickgao/vehicle-sync/internal/connection"
	"github.com/rickgao/vehicle-sync/internal/model"
	"github.com/rickgao/vehicle-sync/internal/poller"
	"github.com/rickgao/vehicle-sync/internal/router"
)

// ErrNotStarted is returned by operations that need Start to have run.
var ErrNotStarted = errors.New("sync facade not started")

// Fetcher loads entities over the HTTP fallback. *api.Client implements it.
type Fetcher interface {
	GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error)
	GetTimeline(ctx context.Context, t model.EntityType, id string) (model.Entity, error)
}

// Config holds facade configuration.
type Config struct {
	EntityTTL        time.Duration // TTL of fetched entities (default: 60s)
	TimelineInterval time.Duration // Default timeline poll interval (default: 30s)
	RefreshTimeout   time.Duration // Timeout of background revalidation (default: 10s)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		EntityTTL:        cache.DefaultTTL,
		TimelineInterval: 30 * time.Second,
		RefreshTimeout:   10 * time.Second,
	}
}

// Deps are the components the facade composes. Session may be nil, in
// which case the caller drives Connect and Disconnect on Conn itself.
type Deps struct {
	Cache   *cache.Cache[model.Entity]
	Conn    connection.Manager
	Router  router.Router
	Poller  *poller.Coordinator
	Fetcher Fetcher
	Session *auth.Session
}

// Facade is the single entry point application code uses for entity
// data: cache-or-fetch reads, per-entity change subscriptions and
// timeline polling.
type Facade struct {
	cfg    Config
	logger *slog.Logger

	cache   *cache.Cache[model.Entity]
	conn    connection.Manager
	router  router.Router
	poller  *poller.Coordinator
	fetcher Fetcher
	session *auth.Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	watchers map[string]map[uint64]func(TimelineView)
	nextID   uint64
}

// New creates a Facade.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Facade, error) {
	if deps.Cache == nil || deps.Conn == nil || deps.Router == nil || deps.Poller == nil || deps.Fetcher == nil {
		return nil, fmt.Errorf("sync facade: cache, connection, router, poller and fetcher are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.EntityTTL <= 0 {
		cfg.EntityTTL = d.EntityTTL
	}
	if cfg.TimelineInterval <= 0 {
		cfg.TimelineInterval = d.TimelineInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = d.RefreshTimeout
	}

	return &Facade{
		cfg:      cfg,
		logger:   logger.With("component", "facade"),
		cache:    deps.Cache,
		conn:     deps.Conn,
		router:   deps.Router,
		poller:   deps.Poller,
		fetcher:  deps.Fetcher,
		session:  deps.Session,
		watchers: make(map[string]map[uint64]func(TimelineView)),
	}, nil
}

// Start runs the router and binds the push channel to the session:
// connect on login, and on logout disconnect and drop every cached
// entity. If the session is already logged in, Start connects at once.
func (f *Facade) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.started = true
	f.mu.Unlock()

	if err := f.router.Start(f.ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	// A closed session takes its event subscriptions with it.
	f.conn.OnDisconnect(f.router.UnsubscribeAll)

	if f.session != nil {
		f.session.OnLogin(func(_ context.Context, userID string) {
			f.logger.Info("login, connecting push channel", "user_id", userID)
			f.conn.Connect(f.ctx)
		})
		f.session.OnLogout(func(_ context.Context, userID string) {
			f.logger.Info("logout, dropping push channel and cache", "user_id", userID)
			f.conn.Disconnect()
			f.cache.InvalidateAll()
		})
		if f.session.LoggedIn() {
			f.conn.Connect(f.ctx)
		}
	}

	f.logger.Info("sync facade started")
	return nil
}

// Stop disconnects, stops polling and routing, and waits for background
// refreshes.
func (f *Facade) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = false
	cancel := f.cancel
	f.mu.Unlock()

	f.conn.Disconnect()

	var errs []error
	if err := f.poller.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop poller: %w", err))
	}
	if err := f.router.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop router: %w", err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	f.logger.Info("sync facade stopped")
	return errors.Join(errs...)
}

// GetEntity returns the entity from cache or fetches it. A stale cached
// value is returned immediately while a background refresh revalidates
// it; only a miss blocks on the fetch.
func (f *Facade) GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error) {
	key := model.Key(t, id)

	if entry, ok := f.cache.Entry(key); ok {
		if !f.cache.IsFresh(key) {
			f.revalidate(t, id)
		}
		return entry.Value, nil
	}

	return f.cache.GetOrFetch(ctx, key, f.fetchEntity(t, id), f.cfg.EntityTTL)
}

// ForceRefresh drops the cached entity and fetches it again.
func (f *Facade) ForceRefresh(ctx context.Context, t model.EntityType, id string) (model.Entity, error) {
	key := model.Key(t, id)
	f.cache.Invalidate(key)
	return f.cache.GetOrFetch(ctx, key, f.fetchEntity(t, id), f.cfg.EntityTTL)
}

func (f *Facade) fetchEntity(t model.EntityType, id string) cache.FetchFunc[model.Entity] {
	return func(ctx context.Context) (model.Entity, error) {
		return f.fetcher.GetEntity(ctx, t, id)
	}
}

// revalidate refreshes a stale entity in the background. Concurrent
// revalidations of one key share a single fetch.
func (f *Facade) revalidate(t model.EntityType, id string) {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	base := f.ctx
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(base, f.cfg.RefreshTimeout)
		defer cancel()

		key := model.Key(t, id)
		if _, err := f.cache.GetOrFetch(ctx, key, f.fetchEntity(t, id), f.cfg.EntityTTL); err != nil {
			f.logger.Warn("background refresh failed, serving stale value",
				"entity_key", key,
				"error", err,
			)
		}
	}()
}

// Status is a snapshot for connection and freshness indicators.
type Status struct {
	Connection  connection.State
	Unavailable bool // reconnect attempts exhausted; data comes from polling only
	Attempts    int
	LoggedIn    bool
	UserID      string
	Visible     bool
	Cached      int
	Polled      int
	Breaker     string // HTTP fallback circuit breaker state, if known
}

// Status returns the current sync status.
func (f *Facade) Status() Status {
	st := Status{
		Connection:  f.conn.State(),
		Unavailable: f.conn.Unavailable(),
		Attempts:    f.conn.Attempts(),
		Visible:     f.poller.Visible(),
		Cached:      f.cache.Len(),
		Polled:      len(f.poller.Handles()),
	}
	if f.session != nil {
		st.LoggedIn = f.session.LoggedIn()
		st.UserID = f.session.UserID()
	}
	if c, ok := f.fetcher.(*api.Client); ok {
		st.Breaker = c.BreakerState()
	}
	return st
}

// SetVisible forwards host visibility to the poller.
func (f *Facade) SetVisible(visible bool) {
	f.poller.SetVisible(visible)
}

// Entities returns every cached entry, for diagnostics.
func (f *Facade) Entities() []cache.Entry[model.Entity] {
	keys := f.cache.Keys()
	out := make([]cache.Entry[model.Entity], 0, len(keys))
	for _, k := range keys {
		if e, ok := f.cache.Entry(k); ok {
			out = append(out, e)
		}
	}
	return out
}
