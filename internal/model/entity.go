package model

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// EntityType names a class of remotely owned entity.
type EntityType string

const (
	EntityVehicle     EntityType = "vehicle"
	EntityBid         EntityType = "bid"
	EntityInspection  EntityType = "inspection"
	EntityTranslation EntityType = "translation"
	EntityTimeline    EntityType = "timeline"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityVehicle, EntityBid, EntityInspection, EntityTranslation, EntityTimeline:
		return true
	}
	return false
}

// ErrInvalidKey is returned by ParseKey for keys not in "<type>:<id>" form.
var ErrInvalidKey = errors.New("invalid entity key")

// Key builds the cache key for an entity.
func Key(t EntityType, id string) string {
	return string(t) + ":" + id
}

// ParseKey splits a "<type>:<id>" key.
func ParseKey(key string) (EntityType, string, error) {
	t, id, ok := strings.Cut(key, ":")
	if !ok || t == "" || id == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return EntityType(t), id, nil
}

// ID is an entity identifier. The upstream API is inconsistent about
// emitting IDs as strings or numbers; both decode to the same value.
type ID string

// UnmarshalJSON accepts "123" and 123.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(data)
	return nil
}

// String returns the ID as a plain string.
func (id ID) String() string { return string(id) }

// Entity is a remotely owned record held by the cache.
// Data is the entity's JSON object exactly as the source of truth sent it.
type Entity struct {
	Type      EntityType      `json:"type"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Key returns the cache key for this entity.
func (e Entity) Key() string {
	return Key(e.Type, e.ID)
}

// Decode unmarshals the entity body into v.
func (e Entity) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("decode %s: empty body", e.Key())
	}
	return json.Unmarshal(e.Data, v)
}

// WithField returns a copy of e whose body has field name set to value.
// The receiver is not modified.
func (e Entity) WithField(name string, value any) (Entity, error) {
	fields := make(map[string]json.RawMessage)
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &fields); err != nil {
			return Entity{}, fmt.Errorf("patch %s: body is not an object: %w", e.Key(), err)
		}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return Entity{}, fmt.Errorf("patch %s: encode %s: %w", e.Key(), name, err)
	}
	fields[name] = raw

	data, err := json.Marshal(fields)
	if err != nil {
		return Entity{}, fmt.Errorf("patch %s: %w", e.Key(), err)
	}

	out := e
	out.Data = data
	return out, nil
}

// EntityFromBody builds an Entity from a JSON object carrying an "id" field.
func EntityFromBody(t EntityType, body json.RawMessage, updatedAt time.Time) (Entity, error) {
	var ref struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(body, &ref); err != nil {
		return Entity{}, fmt.Errorf("decode %s body: %w", t, err)
	}
	if ref.ID == "" {
		return Entity{}, fmt.Errorf("decode %s body: missing id", t)
	}
	return Entity{
		Type:      t,
		ID:        ref.ID.String(),
		Data:      body,
		UpdatedAt: updatedAt,
	}, nil
}
