package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/termpulse/termpulse/internal/config"
	"github.com/termpulse/termpulse/internal/logging"
)

const pushSubscriptionsFileName = "web_push_subscriptions.json"

var pushLog = logging.ForComponent(logging.CompWeb)

type pushSubscription struct {
	Endpoint       string               `json:"endpoint"`
	ExpirationTime any                  `json:"expirationTime,omitempty"`
	Keys           pushSubscriptionKeys `json:"keys"`
	ClientFocused  *bool                `json:"clientFocused,omitempty"`
	FocusUpdatedAt time.Time            `json:"focusUpdatedAt,omitempty"`
}

type pushSubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s pushSubscription) normalize() pushSubscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256DH = strings.TrimSpace(s.Keys.P256DH)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s pushSubscription) validate() error {
	sub := s.normalize()
	if sub.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if sub.Keys.P256DH == "" {
		return fmt.Errorf("keys.p256dh is required")
	}
	if sub.Keys.Auth == "" {
		return fmt.Errorf("keys.auth is required")
	}
	return nil
}

type pushSubscriptionFile struct {
	UpdatedAt     time.Time          `json:"updatedAt"`
	Subscriptions []pushSubscription `json:"subscriptions"`
}

type pushSubscriptionStore interface {
	List(ctx context.Context) ([]pushSubscription, error)
	Upsert(ctx context.Context, sub pushSubscription) error
	RemoveByEndpoint(ctx context.Context, endpoint string) error
	Count(ctx context.Context) (int, error)
}

type pushSubscriptionFileStore struct {
	path string
	mu   sync.Mutex
}

func newPushSubscriptionFileStore() (*pushSubscriptionFileStore, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	return &pushSubscriptionFileStore{
		path: filepath.Join(dir, pushSubscriptionsFileName),
	}, nil
}

func (s *pushSubscriptionFileStore) List(_ context.Context) ([]pushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]pushSubscription, len(data.Subscriptions))
	copy(out, data.Subscriptions)
	return out, nil
}

func (s *pushSubscriptionFileStore) Count(ctx context.Context) (int, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

func (s *pushSubscriptionFileStore) Upsert(_ context.Context, sub pushSubscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}
	if sub.ClientFocused != nil && sub.FocusUpdatedAt.IsZero() {
		sub.FocusUpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	updated := false
	for i := range data.Subscriptions {
		if data.Subscriptions[i].Endpoint != sub.Endpoint {
			continue
		}
		// Preserve last known focus state unless caller explicitly sends one.
		if sub.ClientFocused == nil && data.Subscriptions[i].ClientFocused != nil {
			sub.ClientFocused = data.Subscriptions[i].ClientFocused
			sub.FocusUpdatedAt = data.Subscriptions[i].FocusUpdatedAt
		}
		data.Subscriptions[i] = sub
		updated = true
		break
	}
	if !updated {
		data.Subscriptions = append(data.Subscriptions, sub)
	}
	data.UpdatedAt = time.Now().UTC()

	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) RemoveByEndpoint(_ context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readLocked()
	if err != nil {
		return err
	}

	filtered := make([]pushSubscription, 0, len(data.Subscriptions))
	for _, sub := range data.Subscriptions {
		if sub.Endpoint == endpoint {
			continue
		}
		filtered = append(filtered, sub)
	}

	data.Subscriptions = filtered
	data.UpdatedAt = time.Now().UTC()
	return s.writeLocked(data)
}

func (s *pushSubscriptionFileStore) readLocked() (*pushSubscriptionFile, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &pushSubscriptionFile{
				UpdatedAt:     time.Now().UTC(),
				Subscriptions: []pushSubscription{},
			}, nil
		}
		return nil, fmt.Errorf("read push subscriptions: %w", err)
	}

	var data pushSubscriptionFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse push subscriptions: %w", err)
	}
	if data.Subscriptions == nil {
		data.Subscriptions = []pushSubscription{}
	}
	return &data, nil
}

func (s *pushSubscriptionFileStore) writeLocked(data *pushSubscriptionFile) error {
	if data == nil {
		data = &pushSubscriptionFile{Subscriptions: []pushSubscription{}}
	}
	if data.Subscriptions == nil {
		data.Subscriptions = []pushSubscription{}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir push subscription dir: %w", err)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal push subscriptions: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp push subscriptions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename push subscriptions: %w", err)
	}
	return nil
}

type webPushSender interface {
	Send(payload []byte, sub pushSubscription) (int, error)
}

type vapidPushSender struct {
	subject    string
	publicKey  string
	privateKey string
}

func (s *vapidPushSender) Send(payload []byte, sub pushSubscription) (int, error) {
	sub = sub.normalize()
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256DH,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("push gateway status %d", status)
	}
	return status, nil
}

type pushMessage struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Tag       string `json:"tag,omitempty"`
	Renotify  bool   `json:"renotify,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Badge     int    `json:"badge"`
	Timestamp string `json:"timestamp"`
}

type pushServiceAPI interface {
	Enabled() bool
	PublicKey() string
	Subject() string
	SubscriptionCount(ctx context.Context) (int, error)
	UpsertSubscription(ctx context.Context, sub pushSubscription) error
	RemoveSubscriptionByEndpoint(ctx context.Context, endpoint string) error
	NotifyCompletion(ctx context.Context, sessionID, payload string, badge int)
}

type pushService struct {
	enabled bool

	publicKey  string
	privateKey string
	subject    string
	token      string

	store  pushSubscriptionStore
	sender webPushSender
}

func newPushService(cfg Config) (pushServiceAPI, error) {
	publicKey := strings.TrimSpace(cfg.PushVAPIDPublicKey)
	privateKey := strings.TrimSpace(cfg.PushVAPIDPrivateKey)

	if publicKey == "" && privateKey == "" {
		return nil, nil
	}
	if publicKey == "" || privateKey == "" {
		return nil, fmt.Errorf("both push vapid public and private keys are required")
	}

	subject := strings.TrimSpace(cfg.PushVAPIDSubject)
	if subject == "" {
		subject = "mailto:termpulse@localhost"
	}

	store, err := newPushSubscriptionFileStore()
	if err != nil {
		return nil, err
	}

	return &pushService{
		enabled:    true,
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		token:      strings.TrimSpace(cfg.Token),
		store:      store,
		sender:     &vapidPushSender{subject: subject, publicKey: publicKey, privateKey: privateKey},
	}, nil
}

func (p *pushService) Enabled() bool {
	return p != nil && p.enabled
}

func (p *pushService) PublicKey() string {
	if p == nil {
		return ""
	}
	return p.publicKey
}

func (p *pushService) Subject() string {
	if p == nil {
		return ""
	}
	return p.subject
}

func (p *pushService) SubscriptionCount(ctx context.Context) (int, error) {
	if p == nil || p.store == nil {
		return 0, nil
	}
	return p.store.Count(ctx)
}

func (p *pushService) UpsertSubscription(ctx context.Context, sub pushSubscription) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.Upsert(ctx, sub)
}

func (p *pushService) RemoveSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	if p == nil || !p.enabled || p.store == nil {
		return fmt.Errorf("push service is not configured")
	}
	return p.store.RemoveByEndpoint(ctx, endpoint)
}

// NotifyCompletion pushes a completion event to every subscription that has
// reported itself unfocused. Gone/NotFound endpoints are pruned.
func (p *pushService) NotifyCompletion(ctx context.Context, sessionID, payload string, badge int) {
	if p == nil || !p.enabled || p.store == nil || p.sender == nil {
		return
	}

	subs, err := p.store.List(ctx)
	if err != nil {
		pushLog.Error("push_list_subscriptions_failed", slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		return
	}

	body := strings.TrimSpace(payload)
	if body == "" {
		body = "A session finished a turn."
	}
	msg := pushMessage{
		Title:     "Agent turn complete",
		Body:      body,
		Tag:       fmt.Sprintf("termpulse-%s", sessionID),
		Renotify:  true,
		SessionID: sessionID,
		Badge:     badge,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		pushLog.Error("push_marshal_failed", slog.String("error", err.Error()))
		return
	}

	for _, sub := range subs {
		if !shouldNotifySubscription(sub) {
			pushLog.Debug("push_skipped",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.String("session", sessionID),
				slog.String("reason", "focused_state"),
				slog.String("state", focusStateForLog(sub)))
			continue
		}
		statusCode, err := p.sender.Send(raw, sub)
		if err == nil {
			pushLog.Debug("push_sent",
				slog.String("endpoint", endpointForLog(sub.Endpoint)),
				slog.Int("http_status", statusCode),
				slog.String("session", sessionID))
			continue
		}

		pushLog.Error("push_send_failed",
			slog.String("endpoint", sub.Endpoint),
			slog.Int("http_status", statusCode),
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
		if statusCode == http.StatusGone || statusCode == http.StatusNotFound {
			_ = p.store.RemoveByEndpoint(ctx, sub.Endpoint)
		}
	}
}

// shouldNotifySubscription requires a known-unfocused client. Unknown focus
// means the client never reported presence; stay quiet rather than double
// up with the desktop notifier.
func shouldNotifySubscription(sub pushSubscription) bool {
	if sub.ClientFocused == nil {
		return false
	}
	return !*sub.ClientFocused
}

func endpointForLog(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err == nil && u.Host != "" {
		return u.Host
	}
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}

func focusStateForLog(sub pushSubscription) string {
	if sub.ClientFocused == nil {
		return "unknown"
	}
	if *sub.ClientFocused {
		return "focused"
	}
	return "unfocused"
}
