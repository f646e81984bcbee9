package attention

import "sync"

// FocusTracker mirrors the UI layer's focus state. A session is foreground
// only when it is the active session AND the window is focused AND the page
// is visible; all three must hold.
type FocusTracker struct {
	mu      sync.RWMutex
	active  string
	focused bool
	visible bool
}

// NewFocusTracker starts with no active session, window unfocused.
func NewFocusTracker() *FocusTracker {
	return &FocusTracker{}
}

// SetActiveSession records which session the UI currently shows.
func (f *FocusTracker) SetActiveSession(sessionID string) {
	f.mu.Lock()
	f.active = sessionID
	f.mu.Unlock()
}

// SetWindowFocused records OS-level window focus.
func (f *FocusTracker) SetWindowFocused(focused bool) {
	f.mu.Lock()
	f.focused = focused
	f.mu.Unlock()
}

// SetVisible records page visibility.
func (f *FocusTracker) SetVisible(visible bool) {
	f.mu.Lock()
	f.visible = visible
	f.mu.Unlock()
}

// IsForeground reports whether sessionID is the active, focused, visible
// session right now.
func (f *FocusTracker) IsForeground(sessionID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sessionID != "" && f.active == sessionID && f.focused && f.visible
}

// ActiveSession returns the currently active session id.
func (f *FocusTracker) ActiveSession() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}
