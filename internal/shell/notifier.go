// Package shell surfaces attention events on the user's desktop:
// notifications, an audible chime, and the aggregate badge count.
package shell

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/termpulse/termpulse/internal/logging"
	"github.com/termpulse/termpulse/internal/platform"
)

var log = logging.ForComponent(logging.CompShell)

// runner executes an external command. Swappable in tests.
type runner func(name string, args ...string) error

func execRunner(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Desktop delivers notifications, chimes, and badge updates through
// whatever the current platform offers. All methods are safe for
// concurrent use and never block the caller on slow desktop tooling.
type Desktop struct {
	plat    platform.Platform
	run     runner
	limiter *rate.Limiter

	mu    sync.Mutex
	badge int
}

// Option customizes a Desktop.
type Option func(*Desktop)

// WithRunner replaces the command runner. For tests.
func WithRunner(r runner) Option {
	return func(d *Desktop) { d.run = r }
}

// WithPlatform overrides platform detection. For tests.
func WithPlatform(p platform.Platform) Option {
	return func(d *Desktop) { d.plat = p }
}

// NewDesktop creates a Desktop limited to maxPerMinute notifications.
// maxPerMinute <= 0 disables the limit.
func NewDesktop(maxPerMinute int, opts ...Option) *Desktop {
	d := &Desktop{
		plat: platform.Detect(),
		run:  execRunner,
	}
	if maxPerMinute > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), maxPerMinute)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ShowNotification posts a desktop notification. Drops silently (with a
// log line) when the platform has no notifier or the rate limit is hit.
func (d *Desktop) ShowNotification(title, body string) {
	if d.limiter != nil && !d.limiter.Allow() {
		log.Warn("notification_rate_limited", slog.String("title", title))
		return
	}
	if !d.plat.HasDesktopNotifier() {
		log.Debug("notification_skipped_no_notifier", slog.String("platform", d.plat.String()))
		return
	}

	go func() {
		var err error
		switch d.plat {
		case platform.PlatformMacOS:
			script := fmt.Sprintf("display notification %q with title %q",
				sanitize(body), sanitize(title))
			err = d.run("osascript", "-e", script)
		case platform.PlatformLinux, platform.PlatformWSL2:
			err = d.run("notify-send", "--app-name=termpulse", sanitize(title), sanitize(body))
		default:
			return
		}
		if err != nil {
			log.Warn("notification_failed",
				slog.String("platform", d.plat.String()),
				slog.String("error", err.Error()))
		}
	}()
}

// PlayChime plays a short completion sound. Falls back to the terminal
// bell when no audio player is available.
func (d *Desktop) PlayChime() {
	go func() {
		var err error
		switch d.plat {
		case platform.PlatformMacOS:
			err = d.run("afplay", "/System/Library/Sounds/Glass.aiff")
		case platform.PlatformLinux, platform.PlatformWSL2:
			err = d.run("paplay", "/usr/share/sounds/freedesktop/stereo/complete.oga")
		default:
			err = fmt.Errorf("no audio player")
		}
		if err != nil {
			// Terminal bell as last resort
			fmt.Fprint(os.Stderr, "\a")
		}
	}()
}

// SetBadgeCount records the aggregate badge value. There is no native
// dock on most platforms we run on, so the count is held for the status
// command and pushed to web clients; macOS dock integration would hang
// off this method.
func (d *Desktop) SetBadgeCount(n int) {
	d.mu.Lock()
	d.badge = n
	d.mu.Unlock()
	log.Debug("badge_updated", slog.Int("count", n))
}

// BadgeCount returns the last value handed to SetBadgeCount.
func (d *Desktop) BadgeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.badge
}

// sanitize strips characters that would break quoting in shell-delivered
// notification text and truncates unreasonably long payloads.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return ' '
		}
		return r
	}, s)
	const maxLen = 200
	if len(s) > maxLen {
		// Back up to a rune boundary so multi-byte text is not split.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return strings.TrimSpace(s)
}
