package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var (
	badgeEventsPollInterval      = 2 * time.Second
	badgeEventsHeartbeatInterval = 15 * time.Second
)

// handleBadgeEvents streams badge/pending state over SSE. Clients get an
// immediate snapshot, then updates whenever the badge observer fires, with
// a slow poll as a safety net.
func (s *Server) handleBadgeEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.State == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "STATE_UNAVAILABLE", "attention state is not wired")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snapshot := s.stateSnapshot()
	lastFingerprint := stateFingerprint(snapshot)
	if err := writeSSEEvent(w, flusher, "state", snapshot); err != nil {
		return
	}

	badgeChanges := s.subscribeBadgeChanges()
	defer s.unsubscribeBadgeChanges(badgeChanges)

	pollTicker := time.NewTicker(badgeEventsPollInterval)
	defer pollTicker.Stop()

	heartbeatTicker := time.NewTicker(badgeEventsHeartbeatInterval)
	defer heartbeatTicker.Stop()

	ctx := r.Context()
	emitIfChanged := func() error {
		next := s.stateSnapshot()
		nextFingerprint := stateFingerprint(next)
		if nextFingerprint == lastFingerprint {
			return nil
		}
		if err := writeSSEEvent(w, flusher, "state", next); err != nil {
			return err
		}
		lastFingerprint = nextFingerprint
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case <-badgeChanges:
			if err := emitIfChanged(); err != nil {
				return
			}
		case <-pollTicker.C:
			if err := emitIfChanged(); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// stateFingerprint ignores the Time field so identical states don't re-emit.
func stateFingerprint(state stateResponse) string {
	raw, err := json.Marshal(struct {
		Badge   int            `json:"badge"`
		Pending map[string]int `json:"pending"`
	}{
		Badge:   state.Badge,
		Pending: state.Pending,
	})
	if err != nil {
		return "marshal-error"
	}
	return string(raw)
}
