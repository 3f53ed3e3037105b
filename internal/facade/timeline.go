package facade

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/vehicle-sync/internal/api"
	"github.com/rickgao/vehicle-sync/internal/model"
	"github.com/rickgao/vehicle-sync/internal/poller"
)

// WatchOptions configures a timeline watch.
type WatchOptions struct {
	Interval time.Duration
	MaxAge   time.Duration
	OnChange func(TimelineView) // called after every poll of the timeline
}

// TimelineView is the last known timeline and its freshness.
type TimelineView struct {
	Timeline  model.Timeline
	FetchedAt time.Time // zero until the first successful fetch
	Stale     bool
	Err       error // last fetch error, nil if the last fetch succeeded
}

// timelineResource is the poller resource and cache key of a timeline.
func timelineResource(t model.EntityType, id string) string {
	return model.Key(model.EntityTimeline, api.TimelineID(t, id))
}

// WatchTimeline polls the timeline of (t, id) until the returned stop func
// is called. Watches of the same timeline share one poll loop; the first
// watch's interval applies.
func (f *Facade) WatchTimeline(t model.EntityType, id string, opts WatchOptions) (stop func()) {
	resource := timelineResource(t, id)

	interval := opts.Interval
	if interval <= 0 {
		interval = f.cfg.TimelineInterval
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = interval
	}

	f.mu.Lock()
	f.nextID++
	wid := f.nextID
	if f.watchers[resource] == nil {
		f.watchers[resource] = make(map[uint64]func(TimelineView))
	}
	if opts.OnChange != nil {
		f.watchers[resource][wid] = opts.OnChange
	}
	f.mu.Unlock()

	fetch := func(ctx context.Context) (any, error) {
		e, err := f.fetcher.GetTimeline(ctx, t, id)
		if err != nil {
			return nil, err
		}
		// Timelines live in the cache like any entity, so they survive
		// across watches until their TTL runs out.
		f.cache.Set(resource, e, maxAge)
		return e, nil
	}

	f.poller.StartPolling(resource, fetch, poller.Options{
		Interval: interval,
		MaxAge:   maxAge,
		OnResult: func(poller.Result) { f.notifyTimeline(t, id) },
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watchers[resource], wid)
			if len(f.watchers[resource]) == 0 {
				delete(f.watchers, resource)
			}
			f.mu.Unlock()
			f.poller.StopPolling(resource)
		})
	}
}

// Timeline returns the last known timeline of (t, id). ok is false when
// it has never been fetched.
func (f *Facade) Timeline(t model.EntityType, id string) (TimelineView, bool) {
	resource := timelineResource(t, id)

	view := TimelineView{Stale: f.poller.IsStale(resource)}
	if h, ok := f.poller.Snapshot(resource); ok {
		view.Err = h.LastErr
	}

	entry, ok := f.cache.Entry(resource)
	if !ok {
		return view, false
	}
	view.FetchedAt = entry.FetchedAt
	if err := entry.Value.Decode(&view.Timeline); err != nil {
		view.Err = err
	}
	return view, true
}

// RefreshTimeline fetches a watched timeline now.
func (f *Facade) RefreshTimeline(ctx context.Context, t model.EntityType, id string) error {
	return f.poller.Refresh(ctx, timelineResource(t, id))
}

func (f *Facade) notifyTimeline(t model.EntityType, id string) {
	resource := timelineResource(t, id)

	f.mu.Lock()
	fns := make([]func(TimelineView), 0, len(f.watchers[resource]))
	for _, fn := range f.watchers[resource] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	if len(fns) == 0 {
		return
	}

	view, _ := f.Timeline(t, id)
	for _, fn := range fns {
		fn(view)
	}
}
