package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.True(t, cfg.Notifications.Badge)
	assert.True(t, cfg.Notifications.Desktop)
	assert.True(t, cfg.Notifications.Sound)
	assert.Equal(t, 64*1024, cfg.Scanner.HardLimitBytes)
	assert.Equal(t, 256, cfg.Scanner.TailWindowBytes)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
[notifications]
badge = false
sound = false

[scanner]
hard_limit_bytes = 1024
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Notifications.Badge)
	assert.False(t, cfg.Notifications.Sound)
	assert.Equal(t, 1024, cfg.Scanner.HardLimitBytes)
	assert.Equal(t, 256, cfg.Scanner.TailWindowBytes, "unset field gets default")
	assert.Equal(t, "info", cfg.Logs.Level)
}

func TestLowHardLimitPullsSoftLimitDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
[scanner]
hard_limit_bytes = 1024
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Scanner.HardLimitBytes, "explicit value kept")
	assert.LessOrEqual(t, cfg.Scanner.SoftLimitBytes, cfg.Scanner.HardLimitBytes)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("[notifications\nbroken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	cfg := Default()
	cfg.Notifications.Desktop = false
	cfg.Web.Enabled = true
	cfg.Web.Listen = "127.0.0.1:9000"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.False(t, loaded.Notifications.Desktop)
	assert.True(t, loaded.Web.Enabled)
	assert.Equal(t, "127.0.0.1:9000", loaded.Web.Listen)
}

func TestStorePreferenceBooleans(t *testing.T) {
	cfg := Default()
	cfg.Notifications.Badge = false
	store := NewStore(cfg)

	assert.False(t, store.BadgeEnabled())
	assert.True(t, store.DesktopEnabled())

	next := Default()
	next.Notifications.Desktop = false
	store.Replace(next)

	assert.True(t, store.BadgeEnabled())
	assert.False(t, store.DesktopEnabled())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, Save(path, Default()))

	store := NewStore(Default())
	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, store, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.NoError(t, err)
	go w.Start()
	defer w.Stop()

	// Give the watcher a moment to install before mutating the file.
	time.Sleep(200 * time.Millisecond)

	cfg := Default()
	cfg.Notifications.Sound = false
	require.NoError(t, Save(path, cfg))

	select {
	case got := <-reloaded:
		assert.False(t, got.Notifications.Sound)
		assert.False(t, store.SoundEnabled())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

// Start runs the event loop on the calling goroutine; callers that need to
// keep going must spawn it themselves.
func TestWatcherStartBlocksUntilStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, Save(path, Default()))

	w, err := NewWatcher(path, NewStore(Default()), nil)
	require.NoError(t, err)

	returned := make(chan struct{})
	go func() {
		w.Start()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Start returned without Stop")
	case <-time.After(300 * time.Millisecond):
	}

	w.Stop()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
