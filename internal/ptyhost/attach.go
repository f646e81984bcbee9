//go:build !windows
// +build !windows

package ptyhost

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/termpulse/termpulse/internal/router"
)

// Attach mirrors a channel onto the calling terminal with full PTY support.
// Output arrives through the router like any other subscriber, so an
// attached terminal never disturbs the scan pipeline. Ctrl+Q detaches and
// returns to the caller.
func Attach(ctx context.Context, r *router.Router, ch *Channel) error {
	if !ch.Alive() {
		return fmt.Errorf("channel %s has exited", ch.ID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	// Catch up on retained output before live chunks start flowing.
	_, _ = os.Stdout.Write(ch.Replay())

	sub := r.SubscribeData(ch.ID, func(_ string, chunk []byte) {
		_, _ = os.Stdout.Write(chunk)
	})
	defer sub.Cancel()

	// Handle window resize signals
	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	sigwinchDone := make(chan struct{})
	defer func() {
		signal.Stop(sigwinch)
		close(sigwinchDone)
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-sigwinchDone:
				return
			case _, ok := <-sigwinch:
				if !ok {
					return
				}
				if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
					_ = ch.Resize(ws.Cols, ws.Rows)
				}
			}
		}
	}()
	// Initial resize
	sigwinch <- syscall.SIGWINCH

	detachCh := make(chan struct{})

	// Ignore initial terminal control sequences (capability query replies)
	startTime := time.Now()
	const controlSeqTimeout = 50 * time.Millisecond

	// Read stdin, intercept Ctrl+Q (ASCII 17), forward the rest to the PTY
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 32)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if time.Since(startTime) < controlSeqTimeout {
				continue
			}
			if n == 1 && buf[0] == 17 {
				close(detachCh)
				cancel()
				return
			}
			if _, err := ch.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	select {
	case <-detachCh:
		return nil
	case <-ch.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
}
