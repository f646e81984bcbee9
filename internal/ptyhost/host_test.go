//go:build !windows
// +build !windows

package ptyhost

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not exit in time")
	}
}

func TestSpawnEmitsOutputAndExit(t *testing.T) {
	h := New()

	var mu sync.Mutex
	var out bytes.Buffer
	var exitedID string
	var exitCode int

	h.SetDataHook(func(channelID string, chunk []byte) {
		mu.Lock()
		out.Write(chunk)
		mu.Unlock()
	})
	h.SetExitHook(func(channelID string, code int) {
		mu.Lock()
		exitedID = channelID
		exitCode = code
		mu.Unlock()
	})

	ch, err := h.Spawn(SpawnOptions{Command: "sh", Args: []string{"-c", "printf hello-from-pty"}})
	require.NoError(t, err)
	waitDone(t, ch)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, out.String(), "hello-from-pty")
	require.Equal(t, ch.ID, exitedID)
	require.Equal(t, 0, exitCode)
}

func TestExitCodePropagates(t *testing.T) {
	h := New()
	ch, err := h.Spawn(SpawnOptions{Command: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	waitDone(t, ch)

	require.Equal(t, 3, ch.ExitCode())
	require.False(t, ch.Alive())
}

func TestChannelRemovedAfterExit(t *testing.T) {
	h := New()
	ch, err := h.Spawn(SpawnOptions{Command: "true"})
	require.NoError(t, err)
	waitDone(t, ch)

	_, ok := h.Get(ch.ID)
	require.False(t, ok)
	require.Empty(t, h.List())
}

func TestReplayRetainsOutput(t *testing.T) {
	h := New()
	ch, err := h.Spawn(SpawnOptions{Command: "sh", Args: []string{"-c", "printf replay-me"}})
	require.NoError(t, err)
	waitDone(t, ch)

	require.Contains(t, string(ch.Replay()), "replay-me")
}

func TestReplayCapped(t *testing.T) {
	ch := &Channel{}
	big := strings.Repeat("x", replayCapBytes)
	ch.appendReplay([]byte(big))
	ch.appendReplay([]byte("tail-marker"))

	replay := ch.Replay()
	require.LessOrEqual(t, len(replay), replayCapBytes)
	require.True(t, strings.HasSuffix(string(replay), "tail-marker"))
}

func TestWriteReachesProcess(t *testing.T) {
	h := New()

	var mu sync.Mutex
	var out bytes.Buffer
	h.SetDataHook(func(channelID string, chunk []byte) {
		mu.Lock()
		out.Write(chunk)
		mu.Unlock()
	})

	ch, err := h.Spawn(SpawnOptions{Command: "cat"})
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Write([]byte("echo-back\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(out.String(), "echo-back")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCloseTerminatesProcess(t *testing.T) {
	h := New()
	ch, err := h.Spawn(SpawnOptions{Command: "sleep", Args: []string{"30"}})
	require.NoError(t, err)

	ch.Close()
	waitDone(t, ch)
	require.False(t, ch.Alive())
}

func TestResizeValidation(t *testing.T) {
	h := New()
	ch, err := h.Spawn(SpawnOptions{Command: "sleep", Args: []string{"5"}})
	require.NoError(t, err)
	defer func() {
		ch.Close()
		waitDone(t, ch)
	}()

	require.Error(t, ch.Resize(0, 40))
	require.NoError(t, ch.Resize(100, 30))
}

func TestSpawnRequiresCommand(t *testing.T) {
	h := New()
	_, err := h.Spawn(SpawnOptions{})
	require.Error(t, err)
}

func TestExitHookRunsBeforeDone(t *testing.T) {
	h := New()

	var mu sync.Mutex
	doneAtExit := false
	var exitCh *Channel
	h.SetExitHook(func(channelID string, code int) {
		mu.Lock()
		defer mu.Unlock()
		if exitCh == nil {
			return
		}
		select {
		case <-exitCh.Done():
			doneAtExit = true
		default:
		}
	})

	// cat waits on stdin, so the exit can't race the setup below.
	ch, err := h.Spawn(SpawnOptions{Command: "cat"})
	require.NoError(t, err)
	mu.Lock()
	exitCh = ch
	mu.Unlock()

	ch.Close()
	waitDone(t, ch)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, doneAtExit, "Done must not fire until the exit event is delivered")
}

func TestDataHookCancelStopsDelivery(t *testing.T) {
	h := New()

	var mu sync.Mutex
	got := false
	cancel := h.SetDataHook(func(channelID string, chunk []byte) {
		mu.Lock()
		got = true
		mu.Unlock()
	})
	cancel()

	ch, err := h.Spawn(SpawnOptions{Command: "sh", Args: []string{"-c", "printf quiet"}})
	require.NoError(t, err)
	waitDone(t, ch)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, got)
}
