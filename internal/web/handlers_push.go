package web

import (
	"encoding/json"
	"net/http"
	"strings"
)

// pushSubscribeRequest is a browser PushSubscription plus the client's focus
// state. Clients re-POST the whole thing on visibilitychange, so there is no
// separate presence endpoint; focus rides along with every subscribe.
type pushSubscribeRequest struct {
	Endpoint string               `json:"endpoint"`
	Keys     pushSubscriptionKeys `json:"keys"`
	Focused  *bool                `json:"focused,omitempty"`
}

type pushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type pushConfigResponse struct {
	Enabled     bool   `json:"enabled"`
	PublicKey   string `json:"publicKey,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Subscribers int    `json:"subscribers,omitempty"`
}

type pushAckResponse struct {
	OK bool `json:"ok"`
}

// pushGate runs the checks shared by every push handler. Returns false after
// writing the error response when the request cannot proceed.
func (s *Server) pushGate(w http.ResponseWriter, r *http.Request, method string, needService bool) bool {
	if r.Method != method {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return false
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return false
	}
	if needService && (s.push == nil || !s.push.Enabled()) {
		writeAPIError(w, http.StatusServiceUnavailable, "PUSH_NOT_CONFIGURED", "push notifications are not configured")
		return false
	}
	return true
}

func (s *Server) handlePushConfig(w http.ResponseWriter, r *http.Request) {
	if !s.pushGate(w, r, http.MethodGet, false) {
		return
	}

	if s.push == nil || !s.push.Enabled() {
		writeJSON(w, http.StatusOK, pushConfigResponse{Enabled: false})
		return
	}

	resp := pushConfigResponse{
		Enabled:   true,
		PublicKey: s.push.PublicKey(),
		Subject:   s.push.Subject(),
	}
	if n, err := s.push.SubscriptionCount(r.Context()); err == nil {
		resp.Subscribers = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.pushGate(w, r, http.MethodPost, true) {
		return
	}

	var req pushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid subscription payload")
		return
	}

	sub := pushSubscription{
		Endpoint:      req.Endpoint,
		Keys:          req.Keys,
		ClientFocused: req.Focused,
	}.normalize()
	if err := sub.validate(); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := s.push.UpsertSubscription(r.Context(), sub); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to save push subscription")
		return
	}
	writeJSON(w, http.StatusOK, pushAckResponse{OK: true})
}

func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.pushGate(w, r, http.MethodPost, true) {
		return
	}

	var req pushUnsubscribeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.Endpoint == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "endpoint is required")
		return
	}

	if err := s.push.RemoveSubscriptionByEndpoint(r.Context(), req.Endpoint); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to remove push subscription")
		return
	}
	writeJSON(w, http.StatusOK, pushAckResponse{OK: true})
}
