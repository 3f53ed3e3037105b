package poller

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/vehicle-sync/internal/metrics"
)

// ErrUnknownResource is returned for operations on a resource nobody polls.
var ErrUnknownResource = errors.New("resource not polled")

// FetchFunc loads the current value of a resource.
type FetchFunc func(ctx context.Context) (any, error)

// Result is the outcome of one fetch.
type Result struct {
	ResourceID string
	Value      any
	Err        error
	FetchedAt  time.Time
}

// Options configures polling of one resource.
type Options struct {
	Interval time.Duration // tick period (Config.DefaultInterval when zero)
	MaxAge   time.Duration // staleness bound (Interval when zero)
	OnResult func(Result)  // called after every fetch, success or not
}

// Config holds coordinator configuration.
type Config struct {
	DefaultInterval time.Duration // Interval when Options leave it zero (default: 30s)
	MinInterval     time.Duration // Ticks closer than this to the last fetch are skipped (default: 1s)
	Timeout         time.Duration // Per-fetch timeout (default: 10s)
	Concurrency     int           // Max concurrent fetches on visibility refresh (default: 8)
	PauseWhenHidden bool          // Skip ticks while the host is hidden
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultInterval: 30 * time.Second,
		MinInterval:     time.Second,
		Timeout:         10 * time.Second,
		Concurrency:     8,
	}
}

// Handle is a point-in-time view of one polled resource.
type Handle struct {
	ResourceID    string
	Interval      time.Duration
	MaxAge        time.Duration
	Refs          int
	LastFetchAt   time.Time // last successful fetch
	LastAttemptAt time.Time
	LastResult    any
	LastErr       error
	Fetches       int64
	Skipped       int64
}

// handle is the live state behind a Handle.
type handle struct {
	id       string
	fetch    FetchFunc
	interval time.Duration
	maxAge   time.Duration
	onResult func(Result)
	refs     int
	cancel   context.CancelFunc

	// fetchMu serializes fetches for this resource.
	fetchMu sync.Mutex

	// Guarded by Coordinator.mu.
	lastFetchAt   time.Time
	lastAttemptAt time.Time
	lastResult    any
	lastErr       error
	fetches       int64
	skipped       int64
}

// Coordinator runs one reference-counted polling loop per resource.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*handle
	visible bool
	stopped bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. The host starts visible.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = d.DefaultInterval
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:     cfg,
		logger:  logger.With("component", "poller"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*handle),
		visible: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartPolling begins polling resourceID, or adds a reference if it is
// already polled. The first caller's fetch and options stay in effect.
// The first fetch happens immediately.
func (c *Coordinator) StartPolling(resourceID string, fetch FetchFunc, opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		c.logger.Warn("start polling after stop ignored", "resource", resourceID)
		return
	}

	if h, ok := c.handles[resourceID]; ok {
		h.refs++
		c.logger.Debug("polling reference added", "resource", resourceID, "refs", h.refs)
		return
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = c.cfg.DefaultInterval
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = interval
	}

	ctx, cancel := context.WithCancel(c.ctx)
	h := &handle{
		id:       resourceID,
		fetch:    fetch,
		interval: interval,
		maxAge:   maxAge,
		onResult: opts.OnResult,
		refs:     1,
		cancel:   cancel,
	}
	c.handles[resourceID] = h
	metrics.PollHandles.Set(float64(len(c.handles)))

	c.wg.Add(1)
	go c.run(ctx, h)

	c.logger.Info("polling started",
		"resource", resourceID,
		"interval", interval,
		"max_age", maxAge,
	)
}

// StopPolling drops one reference to resourceID and stops its loop when
// the last reference is gone.
func (c *Coordinator) StopPolling(resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[resourceID]
	if !ok {
		return
	}
	h.refs--
	if h.refs > 0 {
		c.logger.Debug("polling reference dropped", "resource", resourceID, "refs", h.refs)
		return
	}

	h.cancel()
	delete(c.handles, resourceID)
	metrics.PollHandles.Set(float64(len(c.handles)))
	c.logger.Info("polling stopped", "resource", resourceID)
}

// IsStale reports whether resourceID has no successful fetch younger than
// its MaxAge. Unknown resources are stale.
func (c *Coordinator) IsStale(resourceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[resourceID]
	if !ok || h.lastFetchAt.IsZero() {
		return true
	}
	return c.now().Sub(h.lastFetchAt) >= h.maxAge
}

// Snapshot returns the state of resourceID.
func (c *Coordinator) Snapshot(resourceID string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[resourceID]
	if !ok {
		return Handle{}, false
	}
	return h.view(), true
}

// Handles returns every polled resource, sorted by id.
func (c *Coordinator) Handles() []Handle {
	c.mu.Lock()
	out := make([]Handle, 0, len(c.handles))
	for _, h := range c.handles {
		out = append(out, h.view())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// Refresh fetches resourceID now, bypassing the timer and the minimum
// interval guard.
func (c *Coordinator) Refresh(ctx context.Context, resourceID string) error {
	c.mu.Lock()
	h, ok := c.handles[resourceID]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownResource
	}
	return c.poll(ctx, h, false)
}

// SetVisible records host visibility. A hidden to visible transition
// refreshes every polled resource before returning.
func (c *Coordinator) SetVisible(visible bool) {
	c.mu.Lock()
	wasVisible := c.visible
	c.visible = visible
	var hs []*handle
	if visible && !wasVisible {
		for _, h := range c.handles {
			hs = append(hs, h)
		}
	}
	c.mu.Unlock()

	if len(hs) == 0 {
		return
	}

	c.logger.Info("host visible, refreshing", "resources", len(hs))

	g, ctx := errgroup.WithContext(c.ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, h := range hs {
		h := h
		g.Go(func() error {
			// Errors are recorded on the handle; one failure must not
			// cancel the others.
			_ = c.poll(ctx, h, true)
			return nil
		})
	}
	_ = g.Wait()
}

// Visible reports the last visibility set.
func (c *Coordinator) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Stop cancels every loop and waits for them to exit.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.handles = make(map[string]*handle)
	c.mu.Unlock()
	metrics.PollHandles.Set(0)

	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the polling loop of one resource.
func (c *Coordinator) run(ctx context.Context, h *handle) {
	defer c.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Poll immediately on start.
	_ = c.poll(ctx, h, true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.cfg.PauseWhenHidden && !c.Visible() {
				continue
			}
			_ = c.poll(ctx, h, true)
		}
	}
}

// poll fetches h once. With guard set, a fetch within MinInterval of the
// previous attempt is skipped.
func (c *Coordinator) poll(ctx context.Context, h *handle, guard bool) error {
	h.fetchMu.Lock()
	defer h.fetchMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.mu.Lock()
	now := c.now()
	if guard && !h.lastAttemptAt.IsZero() && now.Sub(h.lastAttemptAt) < c.cfg.MinInterval {
		h.skipped++
		c.mu.Unlock()
		metrics.PollFetches.WithLabelValues("skipped").Inc()
		return nil
	}
	h.lastAttemptAt = now
	c.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	value, err := h.fetch(fetchCtx)
	cancel()

	res := Result{ResourceID: h.id, Value: value, Err: err, FetchedAt: c.now()}

	c.mu.Lock()
	h.fetches++
	h.lastErr = err
	if err == nil {
		h.lastFetchAt = res.FetchedAt
		h.lastResult = value
	}
	c.mu.Unlock()

	if err != nil {
		metrics.PollFetches.WithLabelValues("error").Inc()
		c.logger.Warn("poll failed", "resource", h.id, "error", err)
	} else {
		metrics.PollFetches.WithLabelValues("success").Inc()
	}

	if h.onResult != nil {
		h.onResult(res)
	}
	return err
}

// view copies h. Caller holds Coordinator.mu.
func (h *handle) view() Handle {
	return Handle{
		ResourceID:    h.id,
		Interval:      h.interval,
		MaxAge:        h.maxAge,
		Refs:          h.refs,
		LastFetchAt:   h.lastFetchAt,
		LastAttemptAt: h.lastAttemptAt,
		LastResult:    h.lastResult,
		LastErr:       h.lastErr,
		Fetches:       h.fetches,
		Skipped:       h.skipped,
	}
}
