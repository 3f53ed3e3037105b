package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rickgao/vehicle-sync/internal/connection"
	"github.com/rickgao/vehicle-sync/internal/metrics"
	"github.com/rickgao/vehicle-sync/internal/model"
)

// Store is the cache the built-in reconcilers write through.
type Store interface {
	Set(key string, value model.Entity, ttl time.Duration)
	Update(key string, fn func(model.Entity) (model.Entity, error)) (bool, error)
	Invalidate(key string)
}

// Sender transmits an envelope on the push channel.
type Sender interface {
	Send(env model.Envelope) error
}

// Router parses inbound frames, reconciles built-in events into the
// cache, and fans events out to subscribers.
type Router interface {
	// Start consumes frames from the input channel until ctx is done.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Dispatch processes one raw frame synchronously. Malformed frames are
	// logged and dropped.
	Dispatch(data []byte)

	// Subscribe registers h for events of exactly eventType.
	Subscribe(eventType string, h Handler) Unsubscribe

	// UnsubscribeAll removes every subscription.
	UnsubscribeAll()

	// Prices returns the buffer of reconciled price changes.
	Prices() *GrowableBuffer[PriceMsg]

	// Stats returns current router statistics.
	Stats() RouterStats
}

// Option configures a router.
type Option func(*router)

// WithSender sets where pong replies go.
func WithSender(s Sender) Option {
	return func(r *router) { r.sender = s }
}

// WithInput sets the channel Start consumes.
func WithInput(input <-chan connection.RawMessage) Option {
	return func(r *router) { r.input = input }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *router) { r.now = now }
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger
	store  Store
	sender Sender
	now    func() time.Time

	// Input from Connection Manager
	input <-chan connection.RawMessage

	// Output to the price history writer
	prices *GrowableBuffer[PriceMsg]

	subsMu sync.RWMutex
	subs   map[string]map[uuid.UUID]*Subscription

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received        atomic.Int64
	parseErrors     atomic.Int64
	invalidPayloads atomic.Int64
	reconciled      atomic.Int64
	delivered       atomic.Int64
	failures        atomic.Int64
	unhandled       atomic.Int64
	lastPong        atomic.Int64 // unix nanos
}

// NewRouter creates a new Message Router writing through store.
func NewRouter(cfg RouterConfig, store Store, logger *slog.Logger, opts ...Option) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EntityTTL <= 0 {
		cfg.EntityTTL = DefaultRouterConfig().EntityTTL
	}

	r := &router{
		cfg:    cfg,
		logger: logger.With("component", "router"),
		store:  store,
		now:    time.Now,
		prices: NewGrowableBuffer[PriceMsg](cfg.PriceBufferSize, cfg.PriceBufferMaxSize),
		subs:   make(map[string]map[uuid.UUID]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	if r.input == nil {
		return errors.New("router has no input channel")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started", "entity_ttl", r.cfg.EntityTTL)
	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.prices.Close()
	return nil
}

func (r *router) Prices() *GrowableBuffer[PriceMsg] {
	return r.prices
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.subsMu.RLock()
	n := 0
	for _, set := range r.subs {
		n += len(set)
	}
	r.subsMu.RUnlock()

	var lastPong time.Time
	if ns := r.lastPong.Load(); ns != 0 {
		lastPong = time.Unix(0, ns)
	}

	return RouterStats{
		MessagesReceived:   r.received.Load(),
		ParseErrors:        r.parseErrors.Load(),
		InvalidPayloads:    r.invalidPayloads.Load(),
		Reconciled:         r.reconciled.Load(),
		Delivered:          r.delivered.Load(),
		SubscriberFailures: r.failures.Load(),
		Unhandled:          r.unhandled.Load(),
		Subscriptions:      n,
		LastPongAt:         lastPong,
		PriceBuffer:        r.prices.Stats(),
	}
}

// Subscribe registers a handler.
func (r *router) Subscribe(eventType string, h Handler) Unsubscribe {
	sub := &Subscription{
		ID:        uuid.New(),
		EventType: eventType,
		Handler:   h,
	}

	r.subsMu.Lock()
	set, ok := r.subs[eventType]
	if !ok {
		set = make(map[uuid.UUID]*Subscription)
		r.subs[eventType] = set
	}
	set[sub.ID] = sub
	r.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subsMu.Lock()
			defer r.subsMu.Unlock()
			if set, ok := r.subs[eventType]; ok {
				delete(set, sub.ID)
				if len(set) == 0 {
					delete(r.subs, eventType)
				}
			}
		})
	}
}

// UnsubscribeAll drops every subscription.
func (r *router) UnsubscribeAll() {
	r.subsMu.Lock()
	n := len(r.subs)
	r.subs = make(map[string]map[uuid.UUID]*Subscription)
	r.subsMu.Unlock()

	r.logger.Debug("subscriptions cleared", "event_types", n)
}

// routeLoop is the main routing goroutine. One goroutine keeps events in
// arrival order.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.dispatch(raw.Data, raw.ReceivedAt)
		}
	}
}

func (r *router) Dispatch(data []byte) {
	r.dispatch(data, r.now())
}

// dispatch parses, reconciles and delivers a single frame.
func (r *router) dispatch(data []byte, receivedAt time.Time) {
	r.received.Add(1)

	env, err := model.ParseEnvelope(data)
	if err != nil {
		r.parseErrors.Add(1)
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		r.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}

	ev := Event{
		Type:       env.Type,
		Payload:    env.Payload,
		Timestamp:  env.Timestamp,
		UserID:     env.UserID,
		ReceivedAt: receivedAt,
	}
	metrics.EventsRouted.WithLabelValues(ev.Type).Inc()

	builtin, err := r.reconcile(ev)
	if err != nil {
		r.invalidPayloads.Add(1)
		metrics.FramesDropped.WithLabelValues("invalid_payload").Inc()
		r.logger.Warn("dropping event with invalid payload", "type", ev.Type, "error", err)
		return
	}

	if n := r.deliver(ev); n == 0 && !builtin {
		r.unhandled.Add(1)
		r.logger.Debug("no subscribers for event", "type", ev.Type)
	}
}

// reconcile applies the built-in cache mutation for ev. It reports whether
// ev has a built-in reconciler.
func (r *router) reconcile(ev Event) (bool, error) {
	switch ev.Type {
	case model.EventEntityUpdate:
		var p model.EntityPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return true, err
		}
		if !p.EntityType.Valid() || p.ID == "" || len(p.Data) == 0 {
			return true, fmt.Errorf("entity update needs entityType, id and data")
		}
		r.upsert(model.Entity{
			Type:      p.EntityType,
			ID:        p.ID.String(),
			Data:      p.Data,
			UpdatedAt: eventTime(ev),
		})
		return true, nil

	case model.EventEntityDelete:
		var p model.EntityPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return true, err
		}
		if !p.EntityType.Valid() || p.ID == "" {
			return true, fmt.Errorf("entity delete needs entityType and id")
		}
		r.invalidate(model.Key(p.EntityType, p.ID.String()))
		return true, nil

	case model.EventVehicleDelete:
		var p model.DeletePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return true, err
		}
		if p.ID == "" {
			return true, fmt.Errorf("vehicle delete needs id")
		}
		r.invalidate(model.Key(model.EntityVehicle, p.ID.String()))
		return true, nil

	case model.EventPriceUpdate:
		return true, r.reconcilePrice(ev)

	case model.EventPing:
		r.replyPong()
		return true, nil

	case model.EventPong:
		r.lastPong.Store(r.now().UnixNano())
		return true, nil
	}

	if t, ok := entityEventTypes[ev.Type]; ok {
		e, err := model.EntityFromBody(t, ev.Payload, eventTime(ev))
		if err != nil {
			return true, err
		}
		r.upsert(e)
		return true, nil
	}

	return false, nil
}

// reconcilePrice patches the cached vehicle's price, if cached, and hands
// the change to the price buffer.
func (r *router) reconcilePrice(ev Event) error {
	var p model.PriceUpdate
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return err
	}
	if p.VehicleID == "" {
		return fmt.Errorf("price update needs vehicleId")
	}

	key := model.Key(model.EntityVehicle, p.VehicleID.String())
	ok, err := r.store.Update(key, func(e model.Entity) (model.Entity, error) {
		patched, err := e.WithField("price", p.Price)
		if err != nil {
			return e, err
		}
		if p.Currency != "" {
			if patched, err = patched.WithField("currency", p.Currency); err != nil {
				return e, err
			}
		}
		patched.UpdatedAt = eventTime(ev)
		return patched, nil
	})
	if err != nil {
		return err
	}
	if ok {
		r.reconciled.Add(1)
	}

	r.prices.Send(PriceMsg{
		VehicleID:  p.VehicleID.String(),
		Price:      p.Price,
		Currency:   p.Currency,
		Timestamp:  eventTime(ev),
		ReceivedAt: ev.ReceivedAt,
	})
	return nil
}

func (r *router) upsert(e model.Entity) {
	r.store.Set(e.Key(), e, r.cfg.EntityTTL)
	r.reconciled.Add(1)
}

func (r *router) invalidate(key string) {
	r.store.Invalidate(key)
	r.reconciled.Add(1)
}

func (r *router) replyPong() {
	if r.sender == nil {
		return
	}
	env, err := model.NewEnvelope(model.EventPong, nil, r.now())
	if err != nil {
		return
	}
	if err := r.sender.Send(env); err != nil {
		r.logger.Debug("pong reply failed", "error", err)
	}
}

// deliver invokes every handler registered for ev.Type and returns how
// many ran. Handlers are snapshotted so they may unsubscribe while running.
func (r *router) deliver(ev Event) int {
	r.subsMu.RLock()
	set := r.subs[ev.Type]
	subs := make([]*Subscription, 0, len(set))
	for _, s := range set {
		subs = append(subs, s)
	}
	r.subsMu.RUnlock()

	for _, s := range subs {
		r.invoke(s, ev)
	}
	return len(subs)
}

// invoke runs one handler, isolating its errors and panics.
func (r *router) invoke(s *Subscription, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.failures.Add(1)
			metrics.SubscriberFailures.WithLabelValues(ev.Type).Inc()
			r.logger.Error("subscriber panicked",
				"type", ev.Type,
				"subscription", s.ID,
				"panic", p,
			)
		}
	}()

	r.delivered.Add(1)
	if err := s.Handler(ev); err != nil {
		r.failures.Add(1)
		metrics.SubscriberFailures.WithLabelValues(ev.Type).Inc()
		r.logger.Warn("subscriber failed",
			"type", ev.Type,
			"subscription", s.ID,
			"error", err,
		)
	}
}

// eventTime is the sender's timestamp, or the local receive time when the
// frame carried none.
func eventTime(ev Event) time.Time {
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp
	}
	return ev.ReceivedAt
}

// SubscribeTo registers a handler that receives the payload decoded as P.
// A payload that does not decode counts as a handler failure.
func SubscribeTo[P any](r Router, eventType string, fn func(P, Event) error) Unsubscribe {
	return r.Subscribe(eventType, func(ev Event) error {
		var p P
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return fmt.Errorf("decode %s payload: %w", eventType, err)
			}
		}
		return fn(p, ev)
	})
}
