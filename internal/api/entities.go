package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rickgao/vehicle-sync/internal/model"
)

// defaultResources maps entity types to their REST collection.
var defaultResources = map[model.EntityType]string{
	model.EntityVehicle:     "vehicles",
	model.EntityBid:         "bids",
	model.EntityInspection:  "inspections",
	model.EntityTranslation: "translations",
}

// ResourcePath returns the collection path segment for t.
func ResourcePath(t model.EntityType) (string, error) {
	p, ok := defaultResources[t]
	if !ok {
		return "", fmt.Errorf("no resource for entity type %q", t)
	}
	return p, nil
}

// TimelineID is the entity id under which the timeline of (t, id) is cached.
func TimelineID(t model.EntityType, id string) string {
	return string(t) + "/" + id
}

// GetEntity fetches one entity.
func (c *Client) GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error) {
	resource, err := ResourcePath(t)
	if err != nil {
		return model.Entity{}, err
	}

	path := "/" + resource + "/" + url.PathEscape(id)
	env, err := c.get(ctx, string(t), path, nil)
	if err != nil {
		return model.Entity{}, fmt.Errorf("get %s: %w", model.Key(t, id), err)
	}

	return model.Entity{
		Type:      t,
		ID:        id,
		Data:      env.Data,
		UpdatedAt: stamp(env),
	}, nil
}

// GetTimeline fetches the timeline of an entity. The result is an entity
// of type timeline whose ID is TimelineID(t, id).
func (c *Client) GetTimeline(ctx context.Context, t model.EntityType, id string) (model.Entity, error) {
	resource, err := ResourcePath(t)
	if err != nil {
		return model.Entity{}, err
	}

	path := "/" + resource + "/" + url.PathEscape(id) + "/timeline"
	env, err := c.get(ctx, "timeline", path, nil)
	if err != nil {
		return model.Entity{}, fmt.Errorf("get %s timeline: %w", model.Key(t, id), err)
	}

	return model.Entity{
		Type:      model.EntityTimeline,
		ID:        TimelineID(t, id),
		Data:      env.Data,
		UpdatedAt: stamp(env),
	}, nil
}

// stamp prefers the server timestamp over the local clock.
func stamp(env Envelope) time.Time {
	if ts := env.Time(); !ts.IsZero() {
		return ts
	}
	return time.Now().UTC()
}
