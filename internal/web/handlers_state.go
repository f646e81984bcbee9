package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type stateResponse struct {
	Badge   int            `json:"badge"`
	Pending map[string]int `json:"pending"`
	Time    time.Time      `json:"time"`
}

type channelInfo struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId,omitempty"`
	Alive     bool   `json:"alive"`
}

type channelsResponse struct {
	Channels []channelInfo `json:"channels"`
}

type eventInfo struct {
	SessionID  string    `json:"sessionId"`
	ChannelID  string    `json:"channelId"`
	Payload    string    `json:"payload"`
	Suppressed bool      `json:"suppressed"`
	Time       time.Time `json:"time"`
}

type eventsResponse struct {
	Events []eventInfo `json:"events"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, s.stateSnapshot())
}

func (s *Server) stateSnapshot() stateResponse {
	return stateResponse{
		Badge:   s.cfg.State.BadgeCount(),
		Pending: s.cfg.State.Snapshot(),
		Time:    time.Now().UTC(),
	}
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	resp := channelsResponse{Channels: []channelInfo{}}
	if s.cfg.Channels != nil {
		for _, ch := range s.cfg.Channels.List() {
			info := channelInfo{ID: ch.ID, Alive: ch.Alive()}
			if s.cfg.Binder != nil {
				if sessionID, ok := s.cfg.Binder.SessionFor(ch.ID); ok {
					info.SessionID = sessionID
				}
			}
			resp.Channels = append(resp.Channels, info)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.Events == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "event history is not wired")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be 1-500")
			return
		}
		limit = n
	}

	rows, err := s.cfg.Events.RecentEvents(limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load events")
		return
	}

	resp := eventsResponse{Events: []eventInfo{}}
	for _, row := range rows {
		resp.Events = append(resp.Events, eventInfo{
			SessionID:  row.SessionID,
			ChannelID:  row.ChannelID,
			Payload:    row.Payload,
			Suppressed: row.Suppressed,
			Time:       row.CreatedAt.UTC(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSessionClear acknowledges a session from a web client:
// DELETE /api/session/{id}/pending removes its pending entry.
func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
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

	const prefix = "/api/session/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	sessionID, ok := strings.CutSuffix(rest, "/pending")
	if !ok || sessionID == "" || strings.Contains(sessionID, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "expected /api/session/{id}/pending")
		return
	}

	s.cfg.State.ClearSession(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
