//go:build !windows
// +build !windows

package ptyhost

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/termpulse/termpulse/internal/logging"
	"github.com/termpulse/termpulse/internal/router"
)

var ptyLog = logging.ForComponent(logging.CompPTY)

// replayCapBytes caps the per-channel replay buffer for late subscribers.
const replayCapBytes = 100 * 1024

// SpawnOptions configure a new PTY channel.
type SpawnOptions struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // nil inherits the host environment
	Cols    uint16
	Rows    uint16
}

// Host spawns processes under PTYs and emits their output and exit events.
// It is the router's Source: at most one data hook and one exit hook are
// installed, and every chunk for a given channel is emitted from that
// channel's single reader goroutine, preserving arrival order.
type Host struct {
	mu       sync.Mutex
	channels map[string]*Channel
	dataFn   router.DataFunc
	exitFn   router.ExitFunc
}

// New creates an empty host.
func New() *Host {
	return &Host{channels: make(map[string]*Channel)}
}

// SetDataHook implements router.Source.
func (h *Host) SetDataHook(fn router.DataFunc) func() {
	h.mu.Lock()
	h.dataFn = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.dataFn = nil
		h.mu.Unlock()
	}
}

// SetExitHook implements router.Source.
func (h *Host) SetExitHook(fn router.ExitFunc) func() {
	h.mu.Lock()
	h.exitFn = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		h.exitFn = nil
		h.mu.Unlock()
	}
}

func (h *Host) emitData(channelID string, chunk []byte) {
	h.mu.Lock()
	fn := h.dataFn
	h.mu.Unlock()
	if fn != nil {
		fn(channelID, chunk)
	}
}

func (h *Host) emitExit(channelID string, exitCode int) {
	h.mu.Lock()
	fn := h.exitFn
	h.mu.Unlock()
	if fn != nil {
		fn(channelID, exitCode)
	}
}

// Spawn starts a command under a fresh PTY and begins streaming its output.
func (h *Host) Spawn(opts SpawnOptions) (*Channel, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if opts.Cols == 0 {
		opts.Cols = 120
	}
	if opts.Rows == 0 {
		opts.Rows = 40
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	} else {
		cmd.Env = os.Environ()
	}
	// Own process group so Close can kill the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	ch := &Channel{
		ID:    uuid.NewString(),
		host:  h,
		cmd:   cmd,
		ptmx:  ptmx,
		done:  make(chan struct{}),
		alive: true,
	}

	h.mu.Lock()
	h.channels[ch.ID] = ch
	h.mu.Unlock()

	go ch.readLoop()

	ptyLog.Info("channel_spawned",
		slog.String("channel", ch.ID),
		slog.String("command", opts.Command),
		slog.Int("pid", cmd.Process.Pid))
	return ch, nil
}

// Get returns a live channel by id.
func (h *Host) Get(channelID string) (*Channel, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[channelID]
	return ch, ok
}

// List returns all live channels.
func (h *Host) List() []*Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Channel, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch)
	}
	return out
}

// CloseAll tears down every channel. Used at daemon shutdown.
func (h *Host) CloseAll() {
	for _, ch := range h.List() {
		ch.Close()
	}
}

func (h *Host) remove(channelID string) {
	h.mu.Lock()
	delete(h.channels, channelID)
	h.mu.Unlock()
}

// Channel is one PTY-backed process output stream.
type Channel struct {
	ID string

	host *Host
	cmd  *exec.Cmd
	ptmx *os.File

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	alive    bool
	exitCode int

	replayMu sync.Mutex
	replay   []byte
}

// readLoop streams PTY output until the process exits. This is the only
// goroutine emitting data for this channel, which gives subscribers the
// in-order chunk guarantee.
func (c *Channel) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.appendReplay(chunk)
			c.host.emitData(c.ID, chunk)
		}
		if err != nil {
			break
		}
	}

	// Read failed: the process is gone (or the PTY was closed).
	waitErr := c.cmd.Wait()
	code := 0
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if waitErr != nil {
		code = -1
	}

	c.mu.Lock()
	c.alive = false
	c.exitCode = code
	c.mu.Unlock()

	c.host.remove(c.ID)
	// Exit subscribers run before Done fires, so anything waiting on the
	// channel observes the fully-settled exit.
	c.host.emitExit(c.ID, code)
	close(c.done)

	ptyLog.Info("channel_exited",
		slog.String("channel", c.ID),
		slog.Int("exit_code", code))
}

func (c *Channel) appendReplay(chunk []byte) {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()
	c.replay = append(c.replay, chunk...)
	if len(c.replay) > replayCapBytes {
		c.replay = c.replay[len(c.replay)-replayCapBytes:]
	}
}

// Replay returns a copy of the retained output for late subscribers.
func (c *Channel) Replay() []byte {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()
	out := make([]byte, len(c.replay))
	copy(out, c.replay)
	return out
}

// Write sends input to the PTY.
func (c *Channel) Write(data []byte) (int, error) {
	return c.ptmx.Write(data)
}

// Resize changes the PTY window size.
func (c *Channel) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	return pty.Setsize(c.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Alive reports whether the process is still running.
func (c *Channel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// ExitCode returns the recorded exit code once the channel is done.
func (c *Channel) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// Done closes when the process has exited and the exit event was emitted.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close force-terminates the process group and releases the PTY.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		_ = c.ptmx.Close()
		if c.cmd.Process != nil {
			pgid, err := syscall.Getpgid(c.cmd.Process.Pid)
			if err == nil {
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			} else {
				_ = c.cmd.Process.Kill()
			}
		}
	})
}
