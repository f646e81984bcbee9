package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/termpulse/termpulse/internal/logging"
	"github.com/termpulse/termpulse/internal/ptyhost"
	"github.com/termpulse/termpulse/internal/router"
	"github.com/termpulse/termpulse/internal/statedb"
)

// AttentionState exposes the pending/badge view the web API serves.
// Satisfied by *attention.Policy.
type AttentionState interface {
	Snapshot() map[string]int
	BadgeCount() int
	ClearSession(sessionID string)
}

// ChannelBinder answers channel/session ownership questions.
// Satisfied by *attention.Binder.
type ChannelBinder interface {
	SessionFor(channelID string) (string, bool)
	Bindings() map[string]string
}

// EventHistory serves the completion event log. Satisfied by *statedb.StateDB.
type EventHistory interface {
	RecentEvents(limit int) ([]*statedb.EventRow, error)
}

// Config defines runtime options for the web server.
type Config struct {
	ListenAddr string
	Token      string

	PushVAPIDPublicKey  string
	PushVAPIDPrivateKey string
	PushVAPIDSubject    string

	State    AttentionState
	Binder   ChannelBinder
	Events   EventHistory
	Channels *ptyhost.Host
	Router   *router.Router
}

// Server wraps the HTTP server for termpulse web mode.
type Server struct {
	cfg        Config
	httpServer *http.Server
	push       pushServiceAPI
	baseCtx    context.Context
	cancelBase context.CancelFunc

	badgeSubscribersMu sync.Mutex
	badgeSubscribers   map[chan struct{}]struct{}
}

// NewServer creates a new web server with base routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8642"
	}

	s := &Server{
		cfg:              cfg,
		badgeSubscribers: make(map[chan struct{}]struct{}),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	webLog := logging.ForComponent(logging.CompWeb)
	if pushSvc, err := newPushService(cfg); err != nil {
		webLog.Warn("push_disabled", slog.String("error", err.Error()))
	} else {
		s.push = pushSvc
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		resp := map[string]any{
			"ok":   true,
			"time": time.Now().UTC().Format(time.RFC3339),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/channels", s.handleChannels)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/session/", s.handleSessionClear)
	mux.HandleFunc("/api/push/config", s.handlePushConfig)
	mux.HandleFunc("/api/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("/api/push/unsubscribe", s.handlePushUnsubscribe)
	mux.HandleFunc("/events/badge", s.handleBadgeEvents)
	mux.HandleFunc("/ws/channel/", s.handleChannelWS)

	handler := withRecover(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived handlers (SSE/WS) to stop promptly.
		s.cancelBase()
	}

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Long-lived connections may still block graceful shutdown. Force close
	// as a fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr == nil {
			return nil
		} else {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
	}

	return err
}

// NotifyBadge wakes badge SSE streams. Wire this to the attention policy's
// badge observer.
func (s *Server) NotifyBadge(count int) {
	_ = count
	s.badgeSubscribersMu.Lock()
	for ch := range s.badgeSubscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.badgeSubscribersMu.Unlock()
}

// NotifyCompletion forwards a completion event to the push service for
// delivery to unfocused web clients.
func (s *Server) NotifyCompletion(sessionID, payload string) {
	if s.push == nil {
		return
	}
	badge := 0
	if s.cfg.State != nil {
		badge = s.cfg.State.BadgeCount()
	}
	s.push.NotifyCompletion(s.baseCtx, sessionID, payload, badge)
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ForComponent(logging.CompWeb).Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) String() string {
	return fmt.Sprintf("web-server(addr=%s)", s.cfg.ListenAddr)
}

func (s *Server) subscribeBadgeChanges() chan struct{} {
	ch := make(chan struct{}, 1)
	s.badgeSubscribersMu.Lock()
	s.badgeSubscribers[ch] = struct{}{}
	s.badgeSubscribersMu.Unlock()
	return ch
}

func (s *Server) unsubscribeBadgeChanges(ch chan struct{}) {
	if ch == nil {
		return
	}
	s.badgeSubscribersMu.Lock()
	if _, ok := s.badgeSubscribers[ch]; ok {
		delete(s.badgeSubscribers, ch)
		close(ch)
	}
	s.badgeSubscribersMu.Unlock()
}
