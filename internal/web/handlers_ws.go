package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/termpulse/termpulse/internal/logging"
)

type wsClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

type wsServerMessage struct {
	Type      string    `json:"type"` // status, error
	Event     string    `json:"event,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	ChannelID string    `json:"channelId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowWSOrigin,
}

func allowWSOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}

	return strings.EqualFold(originURL.Host, r.Host)
}

// handleChannelWS mirrors a channel's output to a web terminal. Output
// arrives through the router subscription so the scan pipeline sees every
// chunk regardless of how many web clients watch.
func (s *Server) handleChannelWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	if s.cfg.Channels == nil || s.cfg.Router == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "CHANNELS_UNAVAILABLE", "channel host is not wired")
		return
	}

	const prefix = "/ws/channel/"
	channelID := strings.TrimPrefix(r.URL.Path, prefix)
	if channelID == "" || strings.Contains(channelID, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "channel id is required")
		return
	}

	ch, found := s.cfg.Channels.Get(channelID)
	if !found {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "channel not found")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	writer := newWSConnWriter(conn)

	sessionID := ""
	if s.cfg.Binder != nil {
		sessionID, _ = s.cfg.Binder.SessionFor(channelID)
	}
	_ = writer.WriteJSON(wsServerMessage{
		Type:      "status",
		Event:     "connected",
		ChannelID: channelID,
		SessionID: sessionID,
		Time:      time.Now().UTC(),
	})

	// Replay retained output, then stream live chunks.
	if replay := ch.Replay(); len(replay) > 0 {
		if err := writer.WriteBinary(replay); err != nil {
			return
		}
	}

	sub := s.cfg.Router.SubscribeData(channelID, func(_ string, chunk []byte) {
		_ = writer.WriteBinary(chunk)
	})
	defer sub.Cancel()

	// Tell the client when the underlying process goes away.
	go func() {
		select {
		case <-ch.Done():
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "status",
				Event:     "channel_closed",
				ChannelID: channelID,
				Time:      time.Now().UTC(),
			})
		case <-r.Context().Done():
		}
	}()

	_ = writer.WriteJSON(wsServerMessage{
		Type:      "status",
		Event:     "ready",
		ChannelID: channelID,
		Time:      time.Now().UTC(),
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logging.ForComponent(logging.CompWeb).Warn("websocket_closed_unexpectedly",
					slog.String("channel", channelID),
					slog.String("error", err.Error()))
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "error",
				Code:      "INVALID_MESSAGE",
				Message:   "invalid json payload",
				ChannelID: channelID,
				Time:      time.Now().UTC(),
			})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "status",
				Event:     "pong",
				ChannelID: channelID,
				Time:      time.Now().UTC(),
			})
		case "input":
			if _, err := ch.Write([]byte(msg.Data)); err != nil {
				_ = writer.WriteJSON(wsServerMessage{
					Type:      "error",
					Code:      "INPUT_WRITE_FAILED",
					Message:   "failed to send input to channel",
					ChannelID: channelID,
					Time:      time.Now().UTC(),
				})
			}
		case "resize":
			if msg.Cols <= 0 || msg.Rows <= 0 || msg.Cols > 0xffff || msg.Rows > 0xffff {
				_ = writer.WriteJSON(wsServerMessage{
					Type:      "error",
					Code:      "RESIZE_FAILED",
					Message:   "invalid dimensions",
					ChannelID: channelID,
					Time:      time.Now().UTC(),
				})
				continue
			}
			if err := ch.Resize(uint16(msg.Cols), uint16(msg.Rows)); err != nil {
				_ = writer.WriteJSON(wsServerMessage{
					Type:      "error",
					Code:      "RESIZE_FAILED",
					Message:   "failed to resize channel",
					ChannelID: channelID,
					Time:      time.Now().UTC(),
				})
			}
		default:
			_ = writer.WriteJSON(wsServerMessage{
				Type:      "error",
				Code:      "UNSUPPORTED_MESSAGE",
				Message:   "supported message types: ping,input,resize",
				ChannelID: channelID,
				Time:      time.Now().UTC(),
			})
		}
	}
}
