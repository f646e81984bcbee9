package attention

import (
	"log/slog"
	"sync"

	"github.com/termpulse/termpulse/internal/logging"
	"github.com/termpulse/termpulse/internal/oscscan"
	"github.com/termpulse/termpulse/internal/router"
)

var attnLog = logging.ForComponent(logging.CompAttn)

// Sink receives every extracted notification together with the session that
// owns its channel. sessionID is empty when the channel has no binding.
type Sink func(msg oscscan.Message, sessionID string)

// channelState is everything the binder tracks per live channel.
type channelState struct {
	sessionID string
	scanner   *oscscan.Scanner
	sub       *router.Subscription
}

// Binder maintains the channel↔session ownership map and the per-channel
// scanners. It installs at most one router data subscription per channel and
// tears everything down when the channel exits.
type Binder struct {
	router *router.Router
	limits oscscan.Limits
	sink   Sink

	mu        sync.Mutex
	byChannel map[string]*channelState
	bySession map[string]string
	exitSub   *router.Subscription
}

// NewBinder creates a binder over the router. It subscribes to channel exits
// immediately; data subscriptions are installed per channel on Bind.
func NewBinder(r *router.Router, limits oscscan.Limits, sink Sink) *Binder {
	b := &Binder{
		router:    r,
		limits:    limits,
		sink:      sink,
		byChannel: make(map[string]*channelState),
		bySession: make(map[string]string),
	}
	b.exitSub = r.SubscribeExit(b.handleExit)
	return b
}

// Bind makes sessionID the owner of channelID. Rebinding the same live pair
// is a no-op. Rebinding a channel to a different session discards that
// channel's scan buffer: a partially accumulated notification started under
// the old owner must never be attributed to the new one.
func (b *Binder) Bind(sessionID, channelID string) {
	if sessionID == "" || channelID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.byChannel[channelID]
	if st != nil && st.sessionID == sessionID && st.sub != nil {
		return // idempotent: exact pair already live
	}

	if st == nil {
		st = &channelState{scanner: oscscan.New(channelID, b.limits)}
		b.byChannel[channelID] = st
	} else if st.sessionID != "" && st.sessionID != sessionID {
		if st.scanner.HasPartial() {
			// In-progress prefix discarded on ownership change: a
			// notification may have been lost. Surfaced for triage.
			attnLog.Warn("rebind_discarded_partial",
				slog.String("channel", channelID),
				slog.String("old_session", st.sessionID),
				slog.String("new_session", sessionID),
				slog.Int("buffered", st.scanner.Len()))
		}
		st.scanner.Reset()
		if b.bySession[st.sessionID] == channelID {
			delete(b.bySession, st.sessionID)
		}
	}

	st.sessionID = sessionID
	b.bySession[sessionID] = channelID

	if st.sub == nil {
		st.sub = b.router.SubscribeData(channelID, b.handleChunk)
	}

	attnLog.Debug("channel_bound",
		slog.String("channel", channelID),
		slog.String("session", sessionID))
}

// UnbindSession removes a destroyed session's binding. The channel keeps
// running; its output simply becomes unattributed until rebound.
func (b *Binder) UnbindSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channelID, ok := b.bySession[sessionID]
	if !ok {
		return
	}
	delete(b.bySession, sessionID)
	if st := b.byChannel[channelID]; st != nil && st.sessionID == sessionID {
		st.sessionID = ""
		st.scanner.Reset()
	}
}

// SessionFor resolves a channel to its current owning session.
func (b *Binder) SessionFor(channelID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.byChannel[channelID]
	if st == nil || st.sessionID == "" {
		return "", false
	}
	return st.sessionID, true
}

// ChannelFor resolves a session to its current channel.
func (b *Binder) ChannelFor(sessionID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.bySession[sessionID]
	return id, ok
}

// Bindings returns a copy of the current channel→session map.
func (b *Binder) Bindings() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.byChannel))
	for ch, st := range b.byChannel {
		if st.sessionID != "" {
			out[ch] = st.sessionID
		}
	}
	return out
}

// Close cancels the binder's router subscriptions.
func (b *Binder) Close() {
	b.mu.Lock()
	states := make([]*channelState, 0, len(b.byChannel))
	for _, st := range b.byChannel {
		states = append(states, st)
	}
	b.byChannel = make(map[string]*channelState)
	b.bySession = make(map[string]string)
	b.mu.Unlock()

	for _, st := range states {
		st.sub.Cancel()
	}
	b.exitSub.Cancel()
}

// handleChunk feeds one chunk through the channel's scanner and forwards any
// extracted messages to the sink. Per-channel chunks arrive in order from a
// single source goroutine, so scanner state needs no extra locking.
func (b *Binder) handleChunk(channelID string, chunk []byte) {
	b.mu.Lock()
	st := b.byChannel[channelID]
	b.mu.Unlock()
	if st == nil {
		// Channel already torn down; stray chunk has no effect.
		return
	}

	msgs := st.scanner.Scan(chunk)
	if len(msgs) == 0 {
		return
	}

	b.mu.Lock()
	sessionID := st.sessionID
	b.mu.Unlock()

	for _, m := range msgs {
		b.sink(m, sessionID)
	}
}

// handleExit tears down the channel's binding, scan buffer, and data
// subscription. The router has already dropped the channel's subscriber set;
// cancelling here keeps the binder's own books clean even if that ever
// changes. PendingMap entries for the owning session are deliberately left
// intact.
func (b *Binder) handleExit(channelID string, exitCode int) {
	b.mu.Lock()
	st := b.byChannel[channelID]
	if st == nil {
		b.mu.Unlock()
		return
	}
	delete(b.byChannel, channelID)
	if st.sessionID != "" && b.bySession[st.sessionID] == channelID {
		delete(b.bySession, st.sessionID)
	}
	b.mu.Unlock()

	st.sub.Cancel()
	st.scanner.Reset()

	attnLog.Debug("channel_unbound",
		slog.String("channel", channelID),
		slog.Int("exit_code", exitCode))
}
