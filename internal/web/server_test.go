package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/termpulse/termpulse/internal/statedb"
)

type stubHistory struct{}

func (stubHistory) RecentEvents(limit int) ([]*statedb.EventRow, error) { return nil, nil }

type fakeState struct {
	badge   int
	pending map[string]int
	cleared []string
}

func (f *fakeState) Snapshot() map[string]int {
	out := make(map[string]int, len(f.pending))
	for k, v := range f.pending {
		out[k] = v
	}
	return out
}

func (f *fakeState) BadgeCount() int { return f.badge }

func (f *fakeState) ClearSession(sessionID string) {
	f.cleared = append(f.cleared, sessionID)
	delete(f.pending, sessionID)
}

type fakeBinder struct {
	bindings map[string]string
}

func (f *fakeBinder) SessionFor(channelID string) (string, bool) {
	id, ok := f.bindings[channelID]
	return id, ok
}

func (f *fakeBinder) Bindings() map[string]string { return f.bindings }

func TestHealthzEndpoint(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("expected health response to contain ok=true, got: %s", rr.Body.String())
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestStateEndpoint(t *testing.T) {
	state := &fakeState{badge: 3, pending: map[string]int{"s1": 2, "s2": 1}}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", State: state})

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp stateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal state response: %v", err)
	}
	if resp.Badge != 3 {
		t.Errorf("badge = %d, want 3", resp.Badge)
	}
	if resp.Pending["s1"] != 2 || resp.Pending["s2"] != 1 {
		t.Errorf("unexpected pending: %v", resp.Pending)
	}
}

func TestStateRequiresToken(t *testing.T) {
	state := &fakeState{pending: map[string]int{}}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", State: state, Token: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/state?token=secret", nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", rr.Code)
	}
}

func TestSessionClearEndpoint(t *testing.T) {
	state := &fakeState{pending: map[string]int{"s1": 2}}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", State: state})

	req := httptest.NewRequest(http.MethodDelete, "/api/session/s1/pending", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if len(state.cleared) != 1 || state.cleared[0] != "s1" {
		t.Errorf("expected ClearSession(s1), got %v", state.cleared)
	}
}

func TestSessionClearRejectsBadPath(t *testing.T) {
	state := &fakeState{pending: map[string]int{}}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", State: state})

	for _, path := range []string{"/api/session/", "/api/session/s1", "/api/session/s1/other"} {
		req := httptest.NewRequest(http.MethodDelete, path, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("path %s: expected 400, got %d", path, rr.Code)
		}
	}
}

func TestChannelsEndpointEmptyWithoutHost(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"channels":[]`) {
		t.Fatalf("expected empty channel list, got: %s", rr.Body.String())
	}
}

func TestEventsEndpointUnavailableWithoutHistory(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestEventsLimitValidation(t *testing.T) {
	state := &fakeState{pending: map[string]int{}}
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0", State: state, Events: stubHistory{}})

	for _, raw := range []string{"0", "-1", "abc", "9999"} {
		req := httptest.NewRequest(http.MethodGet, "/api/events?limit="+raw, nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit %q: expected 400, got %d", raw, rr.Code)
		}
	}
}

func TestBadgeBroadcastNotifiesAllSubscribers(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})

	subA := srv.subscribeBadgeChanges()
	subB := srv.subscribeBadgeChanges()
	defer srv.unsubscribeBadgeChanges(subA)
	defer srv.unsubscribeBadgeChanges(subB)

	srv.NotifyBadge(2)

	select {
	case <-subA:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected subscriber A to receive badge signal")
	}

	select {
	case <-subB:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected subscriber B to receive badge signal")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := withRecover(panicking)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rr.Code)
	}
}
