package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/vehicle-sync/internal/cache"
	"github.com/rickgao/vehicle-sync/internal/connection"
	"github.com/rickgao/vehicle-sync/internal/model"
)

// recordingSender captures outbound envelopes.
type recordingSender struct {
	mu   sync.Mutex
	sent []model.Envelope
}

func (s *recordingSender) Send(env model.Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	s.mu.Unlock()
	return nil
}

func newTestRouter(t *testing.T, opts ...Option) (Router, *cache.Cache[model.Entity]) {
	t.Helper()
	c := cache.New[model.Entity](cache.WithName("router_test"))
	return NewRouter(DefaultRouterConfig(), c, slog.Default(), opts...), c
}

func decodeVehicle(t *testing.T, e model.Entity) model.Vehicle {
	t.Helper()
	var v model.Vehicle
	if err := e.Decode(&v); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return v
}

func TestDefaultRouterConfig(t *testing.T) {
	cfg := DefaultRouterConfig()

	if cfg.EntityTTL != 60*time.Second {
		t.Errorf("EntityTTL = %v, want 60s", cfg.EntityTTL)
	}
	if cfg.PriceBufferSize <= 0 {
		t.Errorf("PriceBufferSize = %d, want > 0", cfg.PriceBufferSize)
	}
}

func TestRouter_StartStop(t *testing.T) {
	input := make(chan connection.RawMessage, 10)
	c := cache.New[model.Entity]()
	r := NewRouter(DefaultRouterConfig(), c, slog.Default(), WithInput(input))

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	input <- connection.RawMessage{
		Data:       []byte(`{"type":"vehicle:update","payload":{"id":"1","make":"Honda"}}`),
		ReceivedAt: time.Now(),
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.Len() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := c.Get("vehicle:1"); !ok {
		t.Error("vehicle:1 not reconciled from input channel")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestRouter_StartWithoutInput(t *testing.T) {
	r, _ := newTestRouter(t)
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error starting without input")
	}
}

func TestRouter_EntityUpdate(t *testing.T) {
	r, c := newTestRouter(t)

	r.Dispatch([]byte(`{"type":"entity:update","payload":{"entityType":"vehicle","id":42,"data":{"id":42,"make":"Toyota","price":9000}},"timestamp":"2026-03-01T10:00:00Z"}`))

	e, ok := c.Get("vehicle:42")
	if !ok {
		t.Fatal("vehicle:42 not cached")
	}
	if got := decodeVehicle(t, e); got.Make != "Toyota" || got.Price != 9000 {
		t.Errorf("vehicle = %+v", got)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !e.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", e.UpdatedAt, want)
	}
	if !c.IsFresh("vehicle:42") {
		t.Error("upserted entity should be fresh")
	}
}

func TestRouter_TypedUpdates(t *testing.T) {
	tests := []struct {
		frame string
		key   string
	}{
		{`{"type":"vehicle:update","payload":{"id":"7","make":"Mazda"}}`, "vehicle:7"},
		{`{"type":"inspection:update","payload":{"id":"i1","vehicleId":"7","grade":"4.5"}}`, "inspection:i1"},
		{`{"type":"translation:update","payload":{"id":"t1","vehicleId":"7","language":"en"}}`, "translation:t1"},
		{`{"type":"bid:new","payload":{"id":99,"vehicleId":"7","amount":1500}}`, "bid:99"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			r, c := newTestRouter(t)
			r.Dispatch([]byte(tt.frame))
			if _, ok := c.Get(tt.key); !ok {
				t.Errorf("%s not cached", tt.key)
			}
		})
	}
}

func TestRouter_Deletes(t *testing.T) {
	r, c := newTestRouter(t)
	c.Set("vehicle:1", model.Entity{Type: model.EntityVehicle, ID: "1"}, time.Minute)
	c.Set("bid:2", model.Entity{Type: model.EntityBid, ID: "2"}, time.Minute)

	r.Dispatch([]byte(`{"type":"vehicle:delete","payload":{"id":"1"}}`))
	r.Dispatch([]byte(`{"type":"entity:delete","payload":{"entityType":"bid","id":"2"}}`))

	if c.Len() != 0 {
		t.Errorf("Len = %d after deletes, want 0 (keys %v)", c.Len(), c.Keys())
	}
}

func TestRouter_PriceUpdate(t *testing.T) {
	r, c := newTestRouter(t)
	c.Set("vehicle:5", model.Entity{
		Type: model.EntityVehicle,
		ID:   "5",
		Data: []byte(`{"id":"5","make":"Nissan","price":100}`),
	}, time.Minute)

	r.Dispatch([]byte(`{"type":"price:update","payload":{"vehicleId":"5","price":125.5,"currency":"USD"},"timestamp":"2026-03-01T10:00:00Z"}`))

	e, _ := c.Get("vehicle:5")
	v := decodeVehicle(t, e)
	if v.Price != 125.5 || v.Currency != "USD" || v.Make != "Nissan" {
		t.Errorf("vehicle after price update = %+v", v)
	}

	msg, ok := r.Prices().TryReceive()
	if !ok {
		t.Fatal("no price message buffered")
	}
	if msg.VehicleID != "5" || msg.Price != 125.5 {
		t.Errorf("PriceMsg = %+v", msg)
	}
}

func TestRouter_PriceUpdateUncachedVehicle(t *testing.T) {
	r, c := newTestRouter(t)

	r.Dispatch([]byte(`{"type":"price:update","payload":{"vehicleId":"8","price":10}}`))

	if c.Len() != 0 {
		t.Errorf("price update created an entry: %v", c.Keys())
	}
	// Still recorded for price history.
	if r.Prices().Len() != 1 {
		t.Errorf("price buffer len = %d, want 1", r.Prices().Len())
	}
}

func TestRouter_MalformedFramesDropped(t *testing.T) {
	r, c := newTestRouter(t)

	var calls int
	r.Subscribe("notification", func(Event) error { calls++; return nil })

	for _, frame := range []string{
		`not json`,
		`{"payload":{}}`,
		`{"type":"vehicle:update","payload":{"make":"no id"}}`,
		`{"type":"entity:update","payload":{"entityType":"spaceship","id":"1","data":{}}}`,
	} {
		r.Dispatch([]byte(frame))
	}

	// The channel keeps working after bad frames.
	r.Dispatch([]byte(`{"type":"notification","payload":{"id":"n1","title":"hi"}}`))

	stats := r.Stats()
	if stats.ParseErrors != 2 {
		t.Errorf("ParseErrors = %d, want 2", stats.ParseErrors)
	}
	if stats.InvalidPayloads != 2 {
		t.Errorf("InvalidPayloads = %d, want 2", stats.InvalidPayloads)
	}
	if c.Len() != 0 {
		t.Errorf("cache has %v", c.Keys())
	}
	if calls != 1 {
		t.Errorf("notification handler calls = %d, want 1", calls)
	}
}

func TestRouter_SubscribeExactType(t *testing.T) {
	r, _ := newTestRouter(t)

	var got []string
	r.Subscribe("auction:closed", func(ev Event) error {
		got = append(got, "closed:"+ev.Type)
		return nil
	})
	r.Subscribe("auction:opened", func(ev Event) error {
		got = append(got, "opened:"+ev.Type)
		return nil
	})

	r.Dispatch([]byte(`{"type":"auction:closed","payload":{}}`))

	if len(got) != 1 || got[0] != "closed:auction:closed" {
		t.Errorf("deliveries = %v, want [closed:auction:closed]", got)
	}

	r.Dispatch([]byte(`{"type":"auction:unknown"}`))
	if r.Stats().Unhandled != 1 {
		t.Errorf("Unhandled = %d, want 1", r.Stats().Unhandled)
	}
}

func TestRouter_SubscriberIsolation(t *testing.T) {
	r, _ := newTestRouter(t)

	var healthy int
	r.Subscribe("notification", func(Event) error { panic("boom") })
	r.Subscribe("notification", func(Event) error { return errors.New("nope") })
	r.Subscribe("notification", func(Event) error { healthy++; return nil })

	r.Dispatch([]byte(`{"type":"notification","payload":{}}`))

	if healthy != 1 {
		t.Errorf("healthy subscriber calls = %d, want 1", healthy)
	}
	if got := r.Stats().SubscriberFailures; got != 2 {
		t.Errorf("SubscriberFailures = %d, want 2", got)
	}
}

func TestRouter_Unsubscribe(t *testing.T) {
	r, _ := newTestRouter(t)

	var a, b int
	unsubA := r.Subscribe("notification", func(Event) error { a++; return nil })
	r.Subscribe("notification", func(Event) error { b++; return nil })

	unsubA()
	unsubA() // second call is a no-op

	r.Dispatch([]byte(`{"type":"notification"}`))

	if a != 0 || b != 1 {
		t.Errorf("calls a=%d b=%d, want a=0 b=1", a, b)
	}
	if r.Stats().Subscriptions != 1 {
		t.Errorf("Subscriptions = %d, want 1", r.Stats().Subscriptions)
	}

	r.UnsubscribeAll()
	r.Dispatch([]byte(`{"type":"notification"}`))
	if b != 1 {
		t.Errorf("b = %d after UnsubscribeAll, want 1", b)
	}
}

func TestRouter_UnsubscribeDuringDispatch(t *testing.T) {
	r, _ := newTestRouter(t)

	var calls int
	var unsub Unsubscribe
	unsub = r.Subscribe("notification", func(Event) error {
		calls++
		unsub()
		return nil
	})

	r.Dispatch([]byte(`{"type":"notification"}`))
	r.Dispatch([]byte(`{"type":"notification"}`))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRouter_BuiltinEventsReachSubscribers(t *testing.T) {
	r, c := newTestRouter(t)

	var seen []model.ID
	SubscribeTo(r, model.EventVehicleUpdate, func(v model.Vehicle, ev Event) error {
		// Reconciliation runs before delivery.
		if _, ok := c.Get(model.Key(model.EntityVehicle, v.ID.String())); !ok {
			t.Error("vehicle not cached before subscriber ran")
		}
		seen = append(seen, v.ID)
		return nil
	})

	r.Dispatch([]byte(`{"type":"vehicle:update","payload":{"id":"3","make":"Subaru"}}`))

	if len(seen) != 1 || seen[0] != "3" {
		t.Errorf("seen = %v, want [3]", seen)
	}
}

func TestSubscribeTo_DecodeFailure(t *testing.T) {
	r, _ := newTestRouter(t)

	var calls int
	SubscribeTo(r, model.EventNotification, func(n model.Notification, ev Event) error {
		calls++
		return nil
	})

	r.Dispatch([]byte(`{"type":"notification","payload":{"id":{"nested":true}}}`))

	if calls != 0 {
		t.Errorf("handler ran %d times on undecodable payload", calls)
	}
	if r.Stats().SubscriberFailures != 1 {
		t.Errorf("SubscriberFailures = %d, want 1", r.Stats().SubscriberFailures)
	}
}

func TestRouter_PingPong(t *testing.T) {
	sender := &recordingSender{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRouter(t, WithSender(sender), WithClock(func() time.Time { return now }))

	r.Dispatch([]byte(`{"type":"ping"}`))

	sender.mu.Lock()
	if len(sender.sent) != 1 || sender.sent[0].Type != model.EventPong {
		t.Errorf("sent = %+v, want one pong", sender.sent)
	}
	sender.mu.Unlock()

	r.Dispatch([]byte(`{"type":"pong"}`))
	if got := r.Stats().LastPongAt; !got.Equal(now) {
		t.Errorf("LastPongAt = %v, want %v", got, now)
	}
}

func TestRouter_ArrivalOrder(t *testing.T) {
	r, c := newTestRouter(t)

	// Last write wins regardless of the sender's timestamp.
	r.Dispatch([]byte(`{"type":"vehicle:update","payload":{"id":"1","price":2},"timestamp":"2026-03-01T10:00:05Z"}`))
	r.Dispatch([]byte(`{"type":"vehicle:update","payload":{"id":"1","price":1},"timestamp":"2026-03-01T10:00:00Z"}`))

	e, _ := c.Get("vehicle:1")
	if got := decodeVehicle(t, e).Price; got != 1 {
		t.Errorf("Price = %v, want 1 (last arrival)", got)
	}
}
