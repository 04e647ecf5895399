package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpnkeys-bot/internal/infra/database"
	marzbanAPI "vpnkeys-bot/internal/infra/marzban"
	"vpnkeys-bot/internal/localization"
	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/storage"
	"vpnkeys-bot/internal/stories/payment"
	"vpnkeys-bot/internal/stories/reconcile"
)

const (
	allowedIP    = "185.71.76.5"
	disallowedIP = "203.0.113.7"
)

const pay1Body = `{
  "type": "notification",
  "event": "payment.succeeded",
  "object": {
    "id": "pay_1",
    "status": "succeeded",
    "amount": {"value": "150.00", "currency": "RUB"},
    "payment_method": {"type": "bank_card", "id": "pay_1", "saved": false},
    "metadata": {"user_id": "42", "action": "new_key", "days": "30", "amount": "150"},
    "created_at": "2024-01-01T10:00:00.000Z"
  }
}`

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (n *recordingNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[int64][]string{}
	}
	n.sent[chatID] = append(n.sent[chatID], text)
	return nil
}

// fakePanel is the subset of the Marzban API used when a key is created.
type fakePanel struct {
	t           *testing.T
	createCalls atomic.Int32
	linkCalls   atomic.Int32
	lastExpire  atomic.Int64
}

func (p *fakePanel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer"}`)
	})
	mux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		p.createCalls.Add(1)
		var body struct {
			Username string `json:"username"`
			Expire   int64  `json:"expire"`
		}
		assert.NoError(p.t, json.NewDecoder(r.Body).Decode(&body))
		p.lastExpire.Store(body.Expire)

		resp, _ := json.Marshal(map[string]any{
			"username": body.Username,
			"status":   "active",
			"expire":   body.Expire,
			"links":    []string{"vless://" + body.Username + "@vpn.example:443"},
		})
		_, _ = w.Write(resp)
	})
	mux.HandleFunc("/api/users/", func(w http.ResponseWriter, r *http.Request) {
		p.linkCalls.Add(1)
		_, _ = io.WriteString(w, `{}`)
	})
	return mux
}

type stack struct {
	router   http.Handler
	payments *payment.Service
	panel    *fakePanel
	notifier *recordingNotifier
	metrics  *Metrics
}

func newStack(t *testing.T, opts Options) *stack {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.New(ctx, database.WithMaxOpenConns(1), database.WithMigrations())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	panel := &fakePanel{t: t}
	srv := httptest.NewServer(panel.handler())
	t.Cleanup(srv.Close)

	client, err := marzbanAPI.NewClient(srv.URL, "admin", "secret")
	require.NoError(t, err)

	l10n, err := localization.NewService("ru")
	require.NoError(t, err)

	payments := payment.NewService(storage.New(db.DB), nil, logger)
	keys := marzban.NewService(client, marzban.Options{
		BaseURL:  srv.URL,
		Protocol: marzban.ProtocolVLESS,
		Inbound:  "VLESS TCP REALITY",
		Flow:     "xtls-rprx-vision",
	}, logger)
	notifier := &recordingNotifier{}
	rec := reconcile.NewService(payments, keys, nil, notifier, l10n, "ru", logger)

	if opts.AllowedIPs == nil {
		opts.AllowedIPs, err = NewIPAllowList([]string{"185.71.76.0/27", "77.75.156.11", "2a02:5180::/32"})
		require.NoError(t, err)
	}
	if opts.SecretToken == "" {
		opts.SecretToken = "s3cret"
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	validator := NewValidator()
	router := NewRouter(Handlers{
		Webhook:  NewWebhookHandler(rec, metrics, logger),
		Payments: NewPaymentsHandler(payments, validator, logger),
		Referral: NewReferralHandler(nil, validator, logger),
		Messages: NewMessagesHandler(nil, validator, logger),
	}, opts, metrics, logger)

	return &stack{router: router, payments: payments, panel: panel, notifier: notifier, metrics: metrics}
}

func (s *stack) deliver(t *testing.T, ip, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/yookassa", strings.NewReader(body))
	req.RemoteAddr = ip + ":34567"
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestWebhookPay1Scenario(t *testing.T) {
	s := newStack(t, Options{})
	before := time.Now()

	rec, resp := s.deliver(t, allowedIP, pay1Body, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, true, resp["success"])

	stored, err := s.payments.Find(context.Background(), "pay_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, payment.StatusSucceeded, stored.Status)
	assert.Equal(t, "150.00", stored.Amount.StringFixed(2))
	require.NotNil(t, stored.PaymentMethod)
	assert.Equal(t, payment.MethodBankCard, *stored.PaymentMethod)
	assert.NotNil(t, stored.ProvisionedAt)

	assert.Equal(t, int32(1), s.panel.createCalls.Load())
	expire := time.Unix(s.panel.lastExpire.Load(), 0)
	assert.WithinDuration(t, before.Add(30*24*time.Hour), expire, time.Minute)

	require.Len(t, s.notifier.sent[42], 1)
	assert.Contains(t, s.notifier.sent[42][0], "vless://")

	result := resp["result"].(map[string]any)
	assert.Equal(t, "new_key", result["action"])
	assert.Equal(t, float64(30), result["days"])

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.webhookEvents.WithLabelValues(outcomeProcessed)))
}

func TestWebhookRedeliveryDoesNotReprovision(t *testing.T) {
	s := newStack(t, Options{})

	rec, _ := s.deliver(t, allowedIP, pay1Body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := s.deliver(t, allowedIP, pay1Body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, true, resp["duplicate"])

	assert.Equal(t, int32(1), s.panel.createCalls.Load())
	assert.Len(t, s.notifier.sent[42], 1)
}

func TestWebhookRejectsDisallowedIP(t *testing.T) {
	s := newStack(t, Options{})

	rec, resp := s.deliver(t, disallowedIP, pay1Body, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "Invalid IP address", resp["message"])

	stored, err := s.payments.Find(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Zero(t, s.panel.createCalls.Load())
	assert.Empty(t, s.notifier.sent)
}

func TestWebhookForwardedFor(t *testing.T) {
	headers := map[string]string{"X-Forwarded-For": allowedIP}

	t.Run("ignored without trusted proxy", func(t *testing.T) {
		s := newStack(t, Options{})
		rec, _ := s.deliver(t, disallowedIP, pay1Body, headers)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("honoured behind trusted proxy", func(t *testing.T) {
		s := newStack(t, Options{TrustProxyHeaders: true})
		rec, _ := s.deliver(t, disallowedIP, pay1Body, headers)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	s := newStack(t, Options{})

	for _, event := range []string{"payment.waiting_for_capture", "payment.canceled", "refund.succeeded", ""} {
		t.Run(event, func(t *testing.T) {
			body := strings.Replace(pay1Body, "payment.succeeded", event, 1)

			rec, resp := s.deliver(t, allowedIP, body, nil)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, map[string]any{"status": "ignored"}, resp)
		})
	}

	stored, err := s.payments.Find(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Zero(t, s.panel.createCalls.Load())
}

func TestWebhookMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"event":`},
		{name: "no object", body: `{"event":"payment.succeeded"}`},
		{name: "no id", body: strings.Replace(pay1Body, `"id": "pay_1",`, "", 1)},
		{name: "no user id", body: strings.Replace(pay1Body, `"user_id": "42", `, "", 1)},
		{name: "user id not integer", body: strings.Replace(pay1Body, `"user_id": "42"`, `"user_id": "forty-two"`, 1)},
		{name: "amount not decimal", body: strings.Replace(pay1Body, `"value": "150.00"`, `"value": "lots"`, 1)},
		{name: "created at not a date", body: strings.Replace(pay1Body, "2024-01-01T10:00:00.000Z", "yesterday", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, Options{})

			rec, resp := s.deliver(t, allowedIP, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "error", resp["status"])
			assert.Zero(t, s.panel.createCalls.Load())
		})
	}
}

func TestWebhookUnresolvableAction(t *testing.T) {
	s := newStack(t, Options{})
	body := strings.Replace(pay1Body, `"action": "new_key", `, "", 1)

	rec, resp := s.deliver(t, allowedIP, body, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", resp["status"])
	assert.Zero(t, s.panel.createCalls.Load())
	require.Len(t, s.notifier.sent[42], 1)
	assert.Contains(t, s.notifier.sent[42][0], "ACTION")

	stored, err := s.payments.Find(context.Background(), "pay_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ProvisionedAt)
}

func TestWebhookNumericMetadata(t *testing.T) {
	s := newStack(t, Options{})
	body := strings.Replace(pay1Body, `"user_id": "42"`, `"user_id": 42`, 1)
	body = strings.Replace(body, `"days": "30"`, `"days": 30`, 1)

	rec, _ := s.deliver(t, allowedIP, body, nil)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int32(1), s.panel.createCalls.Load())
}

func TestWebhookCreatedAtLayouts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "rfc3339 with millis", raw: "2024-01-01T10:00:00.000Z"},
		{name: "space separated", raw: "2024-01-01 10:00:00"},
		{name: "space separated with micros", raw: "2024-01-01 10:00:00.123456"},
		{name: "iso without zone", raw: "2024-01-01T10:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, Options{})
			body := strings.Replace(pay1Body, "2024-01-01T10:00:00.000Z", tt.raw, 1)

			rec, resp := s.deliver(t, allowedIP, body, nil)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "success", resp["status"])

			stored, err := s.payments.Find(context.Background(), "pay_1")
			require.NoError(t, err)
			require.NotNil(t, stored)
			want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
			assert.True(t, want.Equal(stored.CreatedAt.Truncate(time.Second)), "created_at %s", stored.CreatedAt)
			assert.Equal(t, int32(1), s.panel.createCalls.Load())
		})
	}
}
