//go:build !windows
// +build !windows

package web

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termpulse/termpulse/internal/ptyhost"
	"github.com/termpulse/termpulse/internal/router"
)

// Streams a real channel through the websocket bridge: output must reach the
// client as binary frames via the router subscription.
func TestChannelWSStreamsOutput(t *testing.T) {
	host := ptyhost.New()
	rt := router.New(host)
	defer host.CloseAll()

	ch, err := host.Spawn(ptyhost.SpawnOptions{
		Command: "sh",
		Args:    []string{"-c", "printf ws-stream-marker; sleep 5"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer ch.Close()

	srv := NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Channels:   host,
		Router:     rt,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/channel/" + ch.ID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	var output []byte
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v (collected %q)", err, output)
		}
		if msgType == websocket.BinaryMessage {
			output = append(output, payload...)
			if strings.Contains(string(output), "ws-stream-marker") {
				return
			}
		}
	}
	t.Fatalf("marker never arrived; collected %q", output)
}

func TestChannelWSUnknownChannel(t *testing.T) {
	host := ptyhost.New()
	rt := router.New(host)

	srv := NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Channels:   host,
		Router:     rt,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ws/channel/no-such-channel", nil)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404 for unknown channel, got %d", rec.Code)
	}
}
