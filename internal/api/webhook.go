package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"vpnkeys-bot/internal/apperr"
	"vpnkeys-bot/internal/stories/payment"
	"vpnkeys-bot/internal/stories/reconcile"
)

const eventPaymentSucceeded = "payment.succeeded"

// Outcome labels for vpnkeys_webhook_events_total.
const (
	outcomeForbidden = "forbidden"
	outcomeInvalid   = "invalid"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeProcessed = "processed"
	outcomeFailed    = "failed"
)

type reconciler interface {
	HandleSucceeded(ctx context.Context, ev reconcile.Event) (*reconcile.Result, error)
}

type yookassaNotification struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Object json.RawMessage `json:"object"`
}

type yookassaAmount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type yookassaPayment struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Amount        *yookassaAmount `json:"amount"`
	IncomeAmount  *yookassaAmount `json:"income_amount"`
	Description   *string         `json:"description"`
	PaymentMethod json.RawMessage `json:"payment_method"`
	CreatedAt     *timestamp      `json:"created_at"`
	CapturedAt    *timestamp      `json:"captured_at"`
	Metadata      map[string]any  `json:"metadata"`
}

type webhookResponse struct {
	Status    string         `json:"status"`
	Success   *bool          `json:"success,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Message   string         `json:"message,omitempty"`
	Result    *webhookResult `json:"result,omitempty"`
}

type webhookResult struct {
	PaymentID string     `json:"payment_id"`
	Success   bool       `json:"success"`
	Action    string     `json:"action,omitempty"`
	Username  string     `json:"username,omitempty"`
	Link      string     `json:"link,omitempty"`
	Days      int        `json:"days,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Code      string     `json:"code,omitempty"`
}

// WebhookHandler принимает уведомления YooKassa.
type WebhookHandler struct {
	reconciler reconciler
	metrics    *Metrics
	logger     *slog.Logger
}

func NewWebhookHandler(reconciler reconciler, metrics *Metrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, metrics: metrics, logger: logger}
}

// AllowIPs rejects deliveries from outside the gateway's networks before anything is read.
func (h *WebhookHandler) AllowIPs(list *IPAllowList) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !list.Allowed(ip) {
				h.logger.Error("Webhook from disallowed IP", "ip", ip)
				h.metrics.webhookOutcome(outcomeForbidden)
				h.fail(w, http.StatusForbidden, "Invalid IP address")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.webhookOutcome(outcomeInvalid)
		h.fail(w, http.StatusBadRequest, "Cannot read request body")
		return
	}

	var note yookassaNotification
	if err := json.Unmarshal(body, &note); err != nil {
		h.metrics.webhookOutcome(outcomeInvalid)
		h.fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if note.Event != eventPaymentSucceeded {
		h.logger.Info("Ignoring webhook event", "event", note.Event)
		h.metrics.webhookOutcome(outcomeIgnored)
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	ev, err := decodeSucceededPayment(note.Object)
	if err != nil {
		h.logger.Warn("Malformed payment notification", "error", err)
		h.metrics.webhookOutcome(outcomeInvalid)
		h.fail(w, http.StatusBadRequest, apperr.PublicMessage(err))
		return
	}

	log := h.logger.With("payment_id", ev.PaymentID, "user_id", ev.UserID)
	log.Info("Payment succeeded notification", "amount", ev.Amount.StringFixed(2))

	res, err := h.reconciler.HandleSucceeded(r.Context(), *ev)
	if err != nil {
		log.Error("Payment handling failed", "error", err)
		h.metrics.webhookOutcome(outcomeFailed)
		h.fail(w, apperr.HTTPStatus(err), apperr.PublicMessage(err))
		return
	}

	switch res.Disposition {
	case reconcile.DispositionIgnored:
		h.metrics.webhookOutcome(outcomeIgnored)
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
	case reconcile.DispositionDuplicate:
		h.metrics.webhookOutcome(outcomeDuplicate)
		writeJSON(w, http.StatusOK, webhookResponse{
			Status:    "success",
			Success:   lo.ToPtr(true),
			Duplicate: true,
			Result:    &webhookResult{PaymentID: ev.PaymentID, Success: true},
		})
	default:
		h.metrics.webhookOutcome(outcomeProcessed)
		writeJSON(w, http.StatusOK, webhookResponse{
			Status:  "success",
			Success: lo.ToPtr(true),
			Result:  toWebhookResult(ev.PaymentID, res.Outcome),
		})
	}
}

func (h *WebhookHandler) fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, webhookResponse{Status: "error", Success: lo.ToPtr(false), Message: msg})
}

func toWebhookResult(paymentID string, o *reconcile.Outcome) *webhookResult {
	res := &webhookResult{PaymentID: paymentID}
	if o == nil {
		return res
	}
	res.Success = o.Success
	res.Action = o.Action
	res.Username = o.Username
	res.Link = o.Link
	res.Days = o.Days
	res.ExpiresAt = o.ExpiresAt
	res.Code = string(o.Code)
	return res
}

// decodeSucceededPayment validates the notification object and maps it to a reconcile.Event.
func decodeSucceededPayment(raw json.RawMessage) (*reconcile.Event, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, apperr.InvalidErr("Missing payment object", map[string]string{"object": "required"})
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj yookassaPayment
	if err := dec.Decode(&obj); err != nil {
		return nil, apperr.InvalidErr("Invalid payment object", nil)
	}
	if strings.TrimSpace(obj.ID) == "" {
		return nil, apperr.InvalidErr("Missing payment id", map[string]string{"object.id": "required"})
	}
	if obj.Amount == nil {
		return nil, apperr.InvalidErr("Missing payment amount", map[string]string{"object.amount": "required"})
	}

	metadata := stringifyMetadata(obj.Metadata)
	userID, err := strconv.ParseInt(metadata["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		return nil, apperr.InvalidErr("Invalid metadata.user_id", map[string]string{"metadata.user_id": "int"})
	}

	ev := &reconcile.Event{
		PaymentID:   obj.ID,
		UserID:      userID,
		Amount:      obj.Amount.Value,
		Description: obj.Description,
		CreatedAt:   obj.CreatedAt.ptr(),
		CapturedAt:  obj.CapturedAt.ptr(),
		Metadata:    metadata,
	}
	if obj.IncomeAmount != nil {
		income := obj.IncomeAmount.Value
		ev.IncomeAmount = &income
	}
	if len(obj.PaymentMethod) > 0 && string(obj.PaymentMethod) != "null" {
		var pm struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(obj.PaymentMethod, &pm); err == nil && pm.Type != "" {
			method := payment.MethodFromGateway(pm.Type)
			ev.Method = &method
		}
		details := string(obj.PaymentMethod)
		ev.MethodDetails = &details
	}
	return ev, nil
}

// stringifyMetadata flattens metadata values; YooKassa sends strings but callers may send numbers.
func stringifyMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = strconv.FormatBool(val)
		case nil:
		default:
			b, err := json.Marshal(val)
			if err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}
