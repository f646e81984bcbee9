package shell

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpulse/termpulse/internal/platform"
)

type call struct {
	name string
	args []string
}

func recordingRunner() (runner, <-chan call) {
	ch := make(chan call, 16)
	return func(name string, args ...string) error {
		ch <- call{name: name, args: args}
		return nil
	}, ch
}

func waitCall(t *testing.T, ch <-chan call) call {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a command invocation")
		return call{}
	}
}

func TestShowNotificationMacOS(t *testing.T) {
	run, calls := recordingRunner()
	d := NewDesktop(0, WithRunner(run), WithPlatform(platform.PlatformMacOS))

	d.ShowNotification("Agent turn complete", "build finished")

	c := waitCall(t, calls)
	assert.Equal(t, "osascript", c.name)
	require.Len(t, c.args, 2)
	assert.Contains(t, c.args[1], "build finished")
	assert.Contains(t, c.args[1], "Agent turn complete")
}

func TestShowNotificationLinux(t *testing.T) {
	run, calls := recordingRunner()
	d := NewDesktop(0, WithRunner(run), WithPlatform(platform.PlatformLinux))

	d.ShowNotification("title", "body")

	c := waitCall(t, calls)
	assert.Equal(t, "notify-send", c.name)
}

func TestShowNotificationSkippedOnHeadless(t *testing.T) {
	run, calls := recordingRunner()
	d := NewDesktop(0, WithRunner(run), WithPlatform(platform.PlatformWSL1))

	d.ShowNotification("title", "body")

	select {
	case c := <-calls:
		t.Fatalf("unexpected command: %s", c.name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRateLimitDropsExcess(t *testing.T) {
	run, calls := recordingRunner()
	d := NewDesktop(2, WithRunner(run), WithPlatform(platform.PlatformLinux))

	for i := 0; i < 10; i++ {
		d.ShowNotification("t", "b")
	}

	// Burst of 2 should pass, the rest dropped.
	waitCall(t, calls)
	waitCall(t, calls)
	select {
	case <-calls:
		t.Fatal("rate limit did not drop excess notifications")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPlayChimeUsesPlatformPlayer(t *testing.T) {
	run, calls := recordingRunner()
	d := NewDesktop(0, WithRunner(run), WithPlatform(platform.PlatformMacOS))

	d.PlayChime()

	c := waitCall(t, calls)
	assert.Equal(t, "afplay", c.name)
}

func TestBadgeCountRoundTrip(t *testing.T) {
	d := NewDesktop(0, WithPlatform(platform.PlatformLinux))
	assert.Equal(t, 0, d.BadgeCount())
	d.SetBadgeCount(4)
	assert.Equal(t, 4, d.BadgeCount())
	d.SetBadgeCount(0)
	assert.Equal(t, 0, d.BadgeCount())
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a b", sanitize(`a"b`))
	assert.Equal(t, "x y", sanitize("x\ny"))
	long := strings.Repeat("z", 500)
	assert.Len(t, sanitize(long), 200)
}

func TestSanitizeTruncatesOnRuneBoundary(t *testing.T) {
	// Each rune is 3 bytes, so the byte cap lands mid-rune.
	long := strings.Repeat("日", 100)
	out := sanitize(long)

	assert.True(t, utf8.ValidString(out), "truncation must not split a rune")
	assert.LessOrEqual(t, len(out), 200)
	assert.Equal(t, strings.Repeat("日", 66), out)
}
