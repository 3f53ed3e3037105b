package router

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rickgao/vehicle-sync/internal/model"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	EntityTTL          time.Duration // ttl for entities upserted from push events
	PriceBufferSize    int           // initial price buffer capacity
	PriceBufferMaxSize int           // 0 = unbounded
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		EntityTTL:          60 * time.Second,
		PriceBufferSize:    256,
		PriceBufferMaxSize: 65536,
	}
}

// Event is a parsed inbound envelope as delivered to subscribers.
type Event struct {
	Type       string
	Payload    json.RawMessage
	Timestamp  time.Time // sender's timestamp, zero if absent or unparseable
	UserID     string
	ReceivedAt time.Time
}

// Handler receives events of one type. A returned error or a panic is
// logged and counted; it never affects other handlers.
type Handler func(Event) error

// Unsubscribe removes exactly the registration that returned it.
// Calling it more than once is harmless.
type Unsubscribe func()

// Subscription is a registered handler.
type Subscription struct {
	ID        uuid.UUID
	EventType string
	Handler   Handler
}

// PriceMsg is a reconciled price change handed to the price history writer.
type PriceMsg struct {
	VehicleID  string
	Price      float64
	Currency   string
	Timestamp  time.Time // sender's timestamp, falls back to ReceivedAt
	ReceivedAt time.Time
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived   int64
	ParseErrors        int64 // malformed frames dropped
	InvalidPayloads    int64 // built-in events whose payload could not be reconciled
	Reconciled         int64 // cache mutations applied
	Delivered          int64 // handler invocations
	SubscriberFailures int64
	Unhandled          int64 // events with neither a reconciler nor a subscriber
	Subscriptions      int
	LastPongAt         time.Time
	PriceBuffer        BufferStats
}

// entityEventTypes maps "<type>:update" events to the entity they carry.
var entityEventTypes = map[string]model.EntityType{
	model.EventVehicleUpdate:     model.EntityVehicle,
	model.EventInspectionUpdate:  model.EntityInspection,
	model.EventTranslationUpdate: model.EntityTranslation,
	model.EventBidNew:            model.EntityBid,
}
