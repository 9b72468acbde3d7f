package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hehbot/chatgate/internal/archive"
	"github.com/hehbot/chatgate/internal/dispatch"
	"github.com/hehbot/chatgate/internal/gateway"
	"github.com/hehbot/chatgate/internal/relay"
	"github.com/hehbot/chatgate/internal/snipe"
	"github.com/hehbot/chatgate/internal/version"
)

// gatewayState is the part of *gateway.Gateway the health handler reads.
type gatewayState interface {
	State() gateway.StateSnapshot
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthDeps are the components reported on. Optional ones may be nil.
type healthDeps struct {
	gateway    gatewayState
	dispatcher *dispatch.Dispatcher
	cache      *dispatch.MessageCache
	snipes     *snipe.Store
	db         pinger
	archive    *archive.Writer
	relay      *relay.Relay
}

// newHealthHandler creates the HTTP handler for health and debug endpoints.
func newHealthHandler(deps healthDeps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		// Gateway
		if deps.gateway != nil {
			st := deps.gateway.State()
			gw := map[string]any{
				"phase":    st.Phase.String(),
				"session":  st.SessionID != "",
				"attempts": st.Attempts,
				"fatal":    st.Fatal,
			}
			if st.HasSequence {
				gw["sequence"] = st.Sequence
			}
			if !st.LastAck.IsZero() {
				gw["last_ack"] = st.LastAck.UTC().Format(time.RFC3339)
			}
			health.Components["gateway"] = gw

			switch {
			case st.Fatal:
				health.Status = "unhealthy"
			case st.Phase != gateway.PhaseConnected:
				health.Status = "degraded"
			}
		}

		// Database
		if deps.db != nil {
			if err := deps.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		if deps.dispatcher != nil {
			health.Components["dispatch"] = deps.dispatcher.Stats()
		}
		if deps.cache != nil {
			health.Components["cache"] = deps.cache.Stats()
		}
		if deps.archive != nil {
			health.Components["archive"] = deps.archive.Stats()
		}
		if deps.relay != nil {
			health.Components["relay"] = deps.relay.Stats()
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health, logger)
	})

	mux.HandleFunc("/debug/cache", func(w http.ResponseWriter, r *http.Request) {
		if deps.cache == nil {
			http.Error(w, "cache not configured", http.StatusNotFound)
			return
		}

		raw := r.URL.Query().Get("id")
		if raw == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"stats": deps.cache.Stats(),
			}, logger)
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		// Peek so debugging never changes eviction order
		msg, ok := deps.cache.Peek(id)
		if !ok {
			http.Error(w, "message not cached", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, msg, logger)
	})

	mux.HandleFunc("/debug/snipe", func(w http.ResponseWriter, r *http.Request) {
		if deps.snipes == nil {
			http.Error(w, "snipe not configured", http.StatusNotFound)
			return
		}

		q := r.URL.Query()
		channelID, err := strconv.ParseInt(q.Get("channel"), 10, 64)
		if err != nil {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}

		index := 0
		if raw := q.Get("index"); raw != "" {
			index, err = strconv.Atoi(raw)
			if err != nil || index < 0 {
				http.Error(w, "invalid index", http.StatusBadRequest)
				return
			}
		}

		var (
			entry any
			found bool
		)
		switch q.Get("kind") {
		case "", "deleted":
			entry, found = deps.snipes.Deleted(channelID, index)
		case "edited":
			entry, found = deps.snipes.Edited(channelID, index)
		default:
			http.Error(w, "kind must be deleted or edited", http.StatusBadRequest)
			return
		}

		if !found {
			http.Error(w, "nothing to snipe", http.StatusNotFound)
			return
		}

		deleted, edited := deps.snipes.Counts(channelID)
		writeJSON(w, http.StatusOK, map[string]any{
			"entry":   entry,
			"index":   index,
			"deleted": deleted,
			"edited":  edited,
		}, logger)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response", "error", err)
	}
}
