package facade

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/rickgao/vehicle-sync/internal/model"
	"github.com/rickgao/vehicle-sync/internal/router"
)

// Change describes an event that touched one entity. The cache has
// already been reconciled when a Change is delivered.
type Change struct {
	EventType string
	Key       string
	Deleted   bool
	Entity    model.Entity // current cached value, if Cached
	Cached    bool
	Event     router.Event
}

// SubscribeToEntity calls onChange for every push event about the entity
// (t, id): its typed update and delete events, the generic entity events,
// and price changes for vehicles. The returned func removes all of them.
func (f *Facade) SubscribeToEntity(t model.EntityType, id string, onChange func(Change)) router.Unsubscribe {
	key := model.Key(t, id)

	deliver := func(ev router.Event, deleted bool) {
		ch := Change{EventType: ev.Type, Key: key, Deleted: deleted, Event: ev}
		if !deleted {
			ch.Entity, ch.Cached = f.cache.Get(key)
		}
		onChange(ch)
	}

	var unsubs []router.Unsubscribe
	on := func(eventType string, match func(json.RawMessage) (bool, bool)) {
		unsubs = append(unsubs, f.router.Subscribe(eventType, func(ev router.Event) error {
			hit, deleted := match(ev.Payload)
			if hit {
				deliver(ev, deleted)
			}
			return nil
		}))
	}

	for _, eventType := range updateEvents(t) {
		on(eventType, func(p json.RawMessage) (bool, bool) {
			return bodyID(p) == id, false
		})
	}
	on(string(t)+":delete", func(p json.RawMessage) (bool, bool) {
		return bodyID(p) == id, true
	})
	on(model.EventEntityUpdate, func(p json.RawMessage) (bool, bool) {
		return matchGeneric(p, t, id), false
	})
	on(model.EventEntityDelete, func(p json.RawMessage) (bool, bool) {
		return matchGeneric(p, t, id), true
	})
	if t == model.EntityVehicle {
		on(model.EventPriceUpdate, func(p json.RawMessage) (bool, bool) {
			var pu model.PriceUpdate
			return json.Unmarshal(p, &pu) == nil && pu.VehicleID.String() == id, false
		})
	}

	f.logger.Debug("entity subscription added", "entity_key", key, "events", len(unsubs))

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}
}

// updateEvents lists the typed push events that upsert an entity of type t.
func updateEvents(t model.EntityType) []string {
	switch t {
	case model.EntityBid:
		return []string{model.EventBidNew, string(t) + ":update"}
	default:
		return []string{string(t) + ":update"}
	}
}

// bodyID extracts the "id" field of an event payload.
func bodyID(p json.RawMessage) string {
	var ref struct {
		ID model.ID `json:"id"`
	}
	if json.Unmarshal(p, &ref) != nil {
		return ""
	}
	return ref.ID.String()
}

func matchGeneric(p json.RawMessage, t model.EntityType, id string) bool {
	var ep model.EntityPayload
	if json.Unmarshal(p, &ep) != nil {
		return false
	}
	return ep.EntityType == t && ep.ID.String() == id
}
