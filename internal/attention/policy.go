package attention

import (
	"log/slog"
	"sync"

	"github.com/termpulse/termpulse/internal/oscscan"
)

// Shell is the notification/chime/badge boundary. Implementations live in
// internal/shell and internal/web; this pipeline only calls them.
type Shell interface {
	ShowNotification(title, body string)
	PlayChime()
	SetBadgeCount(n int)
}

// Prefs are the user's read-only enablement booleans, owned by the config
// store.
type Prefs interface {
	BadgeEnabled() bool
	DesktopEnabled() bool
	SoundEnabled() bool
}

// Foreground answers whether a session is currently active, focused, and
// visible. Satisfied by *FocusTracker.
type Foreground interface {
	IsForeground(sessionID string) bool
}

// PendingStore persists pending counts and the completion event history.
// Optional; a nil store disables persistence.
type PendingStore interface {
	SetPending(sessionID string, count int) error
	DeletePending(sessionID string) error
	AppendEvent(sessionID, channelID, payload string, suppressed bool) error
}

// Policy classifies extracted notifications and drives the user-facing
// signals: pending counts, desktop notification, chime, and badge.
type Policy struct {
	prefs Prefs
	shell Shell
	fg    Foreground
	store PendingStore

	mu      sync.Mutex
	pending map[string]int

	// onBadge, if set, observes every externally-visible badge value
	// (web clients subscribe through this).
	onBadge func(count int)
}

// NewPolicy creates a policy. store and onBadge may be nil.
func NewPolicy(prefs Prefs, shell Shell, fg Foreground, store PendingStore) *Policy {
	return &Policy{
		prefs:   prefs,
		shell:   shell,
		fg:      fg,
		store:   store,
		pending: make(map[string]int),
	}
}

// OnBadge registers an observer for externally-visible badge counts.
func (p *Policy) OnBadge(fn func(count int)) {
	p.mu.Lock()
	p.onBadge = fn
	p.mu.Unlock()
}

// Restore seeds pending counts from persisted state at startup.
func (p *Policy) Restore(counts map[string]int) {
	p.mu.Lock()
	for id, n := range counts {
		if n > 0 {
			p.pending[id] = n
		}
	}
	p.mu.Unlock()
	p.Recompute()
}

// HandleMessage is the binder sink: classify, suppress or count, signal.
// Mutation order per event is fixed: pending update, then notification and
// chime, then badge recompute.
func (p *Policy) HandleMessage(msg oscscan.Message, sessionID string) {
	if !msg.Terminal {
		attnLog.Debug("non_terminal_ignored",
			slog.String("channel", msg.ChannelID))
		return
	}
	if sessionID == "" {
		// Cannot attribute: best-effort degrade, no user-visible signal.
		attnLog.Warn("completion_unattributed",
			slog.String("channel", msg.ChannelID))
		return
	}

	suppressed := p.fg.IsForeground(sessionID)

	p.mu.Lock()
	if suppressed {
		// The user is already looking at this output; clear rather
		// than increment.
		delete(p.pending, sessionID)
		if p.store != nil {
			_ = p.store.DeletePending(sessionID)
		}
	} else {
		p.pending[sessionID]++
		if p.store != nil {
			_ = p.store.SetPending(sessionID, p.pending[sessionID])
		}
	}
	if p.store != nil {
		_ = p.store.AppendEvent(sessionID, msg.ChannelID, msg.Payload, suppressed)
	}
	p.mu.Unlock()

	// Notification and chime are independent of the suppression decision;
	// only the preference booleans gate them.
	if p.prefs.DesktopEnabled() {
		p.shell.ShowNotification("Agent turn complete", msg.Payload)
	}
	if p.prefs.SoundEnabled() {
		p.shell.PlayChime()
	}

	p.Recompute()
}

// ClearSession removes (not zeroes) a session's pending entry. The UI layer
// calls this when the session becomes active and foreground, and on session
// destroy.
func (p *Policy) ClearSession(sessionID string) {
	p.mu.Lock()
	_, had := p.pending[sessionID]
	delete(p.pending, sessionID)
	if had && p.store != nil {
		_ = p.store.DeletePending(sessionID)
	}
	p.mu.Unlock()

	if had {
		p.Recompute()
	}
}

// Pending returns a session's current pending count.
func (p *Policy) Pending(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[sessionID]
}

// Snapshot returns a copy of the pending map.
func (p *Policy) Snapshot() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.pending))
	for id, n := range p.pending {
		out[id] = n
	}
	return out
}
