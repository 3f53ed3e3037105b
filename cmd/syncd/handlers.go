package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/vehicle-sync/internal/api"
	"github.com/rickgao/vehicle-sync/internal/cache"
	"github.com/rickgao/vehicle-sync/internal/connection"
	"github.com/rickgao/vehicle-sync/internal/facade"
	"github.com/rickgao/vehicle-sync/internal/model"
)

// syncService is the part of the sync facade the HTTP surface reads.
type syncService interface {
	Status() facade.Status
	Entities() []cache.Entry[model.Entity]
	SetVisible(visible bool)
	GetEntity(ctx context.Context, t model.EntityType, id string) (model.Entity, error)
	ForceRefresh(ctx context.Context, t model.EntityType, id string) (model.Entity, error)
}

// pinger checks database reachability. *pgxpool.Pool implements it.
type pinger interface {
	Ping(ctx context.Context) error
}

type handlerDeps struct {
	sync        syncService
	db          pinger // nil when no price history store is configured
	metricsPath string
	login       func(ctx context.Context)
	logout      func(ctx context.Context)
	now         func() time.Time
}

const (
	debugEntityLimit   = 100
	debugEntityTimeout = 10 * time.Second
)

// createHandler creates the HTTP handler for health, debug and metrics.
func createHandler(deps handlerDeps, logger *slog.Logger) http.Handler {
	if deps.now == nil {
		deps.now = time.Now
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		st := deps.sync.Status()

		push := map[string]any{
			"state":    st.Connection.String(),
			"attempts": st.Attempts,
		}
		if st.Unavailable {
			push["unavailable"] = true
		}
		health.Components["push_channel"] = push
		if st.LoggedIn && (st.Connection != connection.StateConnected || st.Unavailable) {
			health.Status = "degraded"
		}

		health.Components["session"] = map[string]any{
			"logged_in": st.LoggedIn,
			"user_id":   st.UserID,
		}

		if st.Breaker != "" {
			health.Components["api"] = map[string]string{"breaker": st.Breaker}
			if st.Breaker == "open" {
				health.Status = "degraded"
			}
		}

		health.Components["cache"] = map[string]int{"entries": st.Cached}
		health.Components["poller"] = map[string]any{
			"resources": st.Polled,
			"visible":   st.Visible,
		}

		if deps.db != nil {
			if err := deps.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health, logger)
	})

	mux.HandleFunc("/debug/entities", func(w http.ResponseWriter, r *http.Request) {
		entries := deps.sync.Entities()
		total := len(entries)

		// Limit to first 100 for debugging
		if len(entries) > debugEntityLimit {
			entries = entries[:debugEntityLimit]
		}

		now := deps.now()
		type entityView struct {
			Key       string          `json:"key"`
			FetchedAt time.Time       `json:"fetched_at"`
			Age       string          `json:"age"`
			Fresh     bool            `json:"fresh"`
			Data      json.RawMessage `json:"data"`
		}
		views := make([]entityView, 0, len(entries))
		for _, e := range entries {
			views = append(views, entityView{
				Key:       e.Key,
				FetchedAt: e.FetchedAt,
				Age:       e.Age(now).Round(time.Millisecond).String(),
				Fresh:     e.FreshAt(now),
				Data:      e.Value.Data,
			})
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"count":    total,
			"showing":  len(views),
			"entities": views,
		}, logger)
	})

	// Reads one entity through the cache, or refetches it with refresh=1.
	mux.HandleFunc("/debug/entity", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		t := model.EntityType(q.Get("type"))
		id := q.Get("id")
		if !t.Valid() || id == "" {
			http.Error(w, "type and id are required", http.StatusBadRequest)
			return
		}
		refresh := false
		if v := q.Get("refresh"); v != "" {
			var err error
			if refresh, err = strconv.ParseBool(v); err != nil {
				http.Error(w, "refresh must be true or false", http.StatusBadRequest)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), debugEntityTimeout)
		defer cancel()

		var (
			entity model.Entity
			err    error
		)
		if refresh {
			entity, err = deps.sync.ForceRefresh(ctx, t, id)
		} else {
			entity, err = deps.sync.GetEntity(ctx, t, id)
		}
		if err != nil {
			status := http.StatusBadGateway
			if api.IsNotFound(err) {
				status = http.StatusNotFound
			}
			logger.Debug("debug entity read failed", "type", t, "id", id, "refresh", refresh, "error", err)
			writeJSON(w, status, map[string]string{
				"key":   model.Key(t, id),
				"error": err.Error(),
			}, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"key":        entity.Key(),
			"refreshed":  refresh,
			"updated_at": entity.UpdatedAt,
			"data":       entity.Data,
		}, logger)
	})

	mux.HandleFunc("/debug/visibility", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			visible, err := strconv.ParseBool(r.URL.Query().Get("visible"))
			if err != nil {
				http.Error(w, "visible must be true or false", http.StatusBadRequest)
				return
			}
			deps.sync.SetVisible(visible)
			logger.Info("visibility changed", "visible", visible)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"visible": deps.sync.Status().Visible}, logger)
	})

	mux.HandleFunc("/debug/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Query().Get("action") {
		case "login":
			if deps.login == nil {
				http.Error(w, "login not available", http.StatusNotImplemented)
				return
			}
			deps.login(context.WithoutCancel(r.Context()))
		case "logout":
			if deps.logout == nil {
				http.Error(w, "logout not available", http.StatusNotImplemented)
				return
			}
			deps.logout(context.WithoutCancel(r.Context()))
		default:
			http.Error(w, "action must be login or logout", http.StatusBadRequest)
			return
		}
		st := deps.sync.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"logged_in": st.LoggedIn,
			"user_id":   st.UserID,
		}, logger)
	})

	if deps.metricsPath != "" {
		mux.Handle(deps.metricsPath, promhttp.Handler())
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}
