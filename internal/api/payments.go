package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"vpnkeys-bot/internal/apperr"
	"vpnkeys-bot/internal/stories/payment"
)

type paymentService interface {
	Save(ctx context.Context, req payment.SaveRequest) (*payment.Payment, bool, error)
	Get(ctx context.Context, paymentID string) (*payment.Payment, error)
	ListByUser(ctx context.Context, userID int64, criteria payment.ListCriteria) ([]*payment.Payment, error)
	Search(ctx context.Context, criteria payment.ListCriteria) ([]*payment.Payment, error)
	Statistics(ctx context.Context, from, to *time.Time) (*payment.Statistics, error)
	Summary(ctx context.Context, userID int64) (*payment.Summary, error)
}

type savePaymentRequest struct {
	PaymentID            string           `json:"payment_id" validate:"required,max=255"`
	UserID               int64            `json:"user_id" validate:"gt=0"`
	Amount               *decimal.Decimal `json:"amount" validate:"required"`
	IncomeAmount         *decimal.Decimal `json:"income_amount"`
	Status               string           `json:"status" validate:"required,oneof=pending waiting_for_capture succeeded canceled failed refunded"`
	Description          *string          `json:"description" validate:"omitempty,max=1024"`
	PaymentMethod        *string          `json:"payment_method"`
	PaymentMethodDetails *string          `json:"payment_method_details"`
	PaymentMetadata      *string          `json:"payment_metadata"`
	CreatedAt            *timestamp       `json:"created_at"`
	CapturedAt           *timestamp       `json:"captured_at"`
}

type searchPaymentsRequest struct {
	UserID        *int64           `json:"user_id" validate:"omitempty,gt=0"`
	Status        *string          `json:"status" validate:"omitempty,oneof=pending waiting_for_capture succeeded canceled failed refunded"`
	PaymentMethod *string          `json:"payment_method"`
	StartDate     *timestamp       `json:"start_date"`
	EndDate       *timestamp       `json:"end_date"`
	MinAmount     *decimal.Decimal `json:"min_amount"`
	MaxAmount     *decimal.Decimal `json:"max_amount"`
	Limit         int              `json:"limit" validate:"omitempty,min=1,max=100"`
	Offset        int              `json:"offset" validate:"min=0"`
}

type paymentResponse struct {
	PaymentID            string     `json:"payment_id"`
	UserID               int64      `json:"user_id"`
	Amount               string     `json:"amount"`
	IncomeAmount         *string    `json:"income_amount"`
	Status               string     `json:"status"`
	Description          *string    `json:"description"`
	PaymentMethod        *string    `json:"payment_method"`
	PaymentMethodDetails *string    `json:"payment_method_details"`
	PaymentMetadata      *string    `json:"payment_metadata"`
	CreatedAt            time.Time  `json:"created_at"`
	CapturedAt           *time.Time `json:"captured_at"`
	ProvisionedAt        *time.Time `json:"provisioned_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type saveResponse struct {
	paymentResponse
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type methodStatsResponse struct {
	Count int    `json:"count"`
	Total string `json:"total"`
}

type statisticsResponse struct {
	StartDate  time.Time                      `json:"start_date"`
	EndDate    time.Time                      `json:"end_date"`
	TotalCount int                            `json:"total_count"`
	TotalSum   string                         `json:"total_sum"`
	ByMethod   map[string]methodStatsResponse `json:"by_method"`
}

type summaryResponse struct {
	UserID             int64      `json:"user_id"`
	TotalPayments      int        `json:"total_payments"`
	SuccessfulPayments int        `json:"successful_payments"`
	FailedPayments     int        `json:"failed_payments"`
	TotalSpent         string     `json:"total_spent"`
	LastPaymentDate    *time.Time `json:"last_payment_date"`
	LastPaymentStatus  *string    `json:"last_payment_status"`
	LastPaymentAmount  *string    `json:"last_payment_amount"`
}

// PaymentsHandler serves /api/payments.
type PaymentsHandler struct {
	payments  paymentService
	validator *Validator
	logger    *slog.Logger
}

func NewPaymentsHandler(payments paymentService, validator *Validator, logger *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{payments: payments, validator: validator, logger: logger}
}

func (h *PaymentsHandler) Routes(r chi.Router) {
	r.Post("/payments/save", h.save)
	r.Post("/payments/search", h.search)
	r.Get("/payments/statistics", h.statistics)
	r.Get("/payments/user/{user_id}", h.listByUser)
	r.Get("/payments/user/{user_id}/summary", h.summary)
	r.Get("/payments/{payment_id}", h.get)
}

func (h *PaymentsHandler) save(w http.ResponseWriter, r *http.Request) {
	var req savePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	save := payment.SaveRequest{
		PaymentID:            req.PaymentID,
		UserID:               req.UserID,
		Amount:               *req.Amount,
		Status:               payment.Status(req.Status),
		IncomeAmount:         req.IncomeAmount,
		Description:          req.Description,
		PaymentMethodDetails: req.PaymentMethodDetails,
		CreatedAt:            req.CreatedAt.ptr(),
		CapturedAt:           req.CapturedAt.ptr(),
		Metadata:             req.PaymentMetadata,
	}
	if req.PaymentMethod != nil {
		save.PaymentMethod = lo.ToPtr(payment.MethodFromGateway(*req.PaymentMethod))
	}

	stored, created, err := h.payments.Save(r.Context(), save)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	msg := "Payment updated successfully"
	if created {
		msg = "Payment saved successfully"
	}
	writeJSON(w, http.StatusOK, saveResponse{
		paymentResponse: toPaymentResponse(stored),
		Success:         true,
		Message:         msg,
	})
}

func (h *PaymentsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.Get(r.Context(), chi.URLParam(r, "payment_id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (h *PaymentsHandler) listByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	criteria, err := listCriteriaFromQuery(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	list, err := h.payments.ListByUser(r.Context(), userID, criteria)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(list, func(p *payment.Payment, _ int) paymentResponse { return toPaymentResponse(p) }))
}

func (h *PaymentsHandler) search(w http.ResponseWriter, r *http.Request) {
	var req searchPaymentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	criteria := payment.ListCriteria{
		UserID:    req.UserID,
		From:      req.StartDate.ptr(),
		To:        req.EndDate.ptr(),
		MinAmount: req.MinAmount,
		MaxAmount: req.MaxAmount,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	if req.Status != nil {
		criteria.Statuses = []payment.Status{payment.Status(*req.Status)}
	}
	if req.PaymentMethod != nil {
		criteria.Method = lo.ToPtr(payment.MethodFromGateway(*req.PaymentMethod))
	}

	list, err := h.payments.Search(r.Context(), criteria)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(list, func(p *payment.Payment, _ int) paymentResponse { return toPaymentResponse(p) }))
}

func (h *PaymentsHandler) statistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("start_date"), "start_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	to, err := parseDate(q.Get("end_date"), "end_date")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	stats, err := h.payments.Statistics(r.Context(), from, to)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := statisticsResponse{
		StartDate:  stats.From,
		EndDate:    stats.To,
		TotalCount: stats.TotalCount,
		TotalSum:   stats.TotalSum.StringFixed(2),
		ByMethod:   make(map[string]methodStatsResponse, len(stats.ByMethod)),
	}
	for method, ms := range stats.ByMethod {
		resp.ByMethod[string(method)] = methodStatsResponse{Count: ms.Count, Total: ms.Total.StringFixed(2)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentsHandler) summary(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	s, err := h.payments.Summary(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := summaryResponse{
		UserID:             s.UserID,
		TotalPayments:      s.TotalPayments,
		SuccessfulPayments: s.SuccessfulPayments,
		FailedPayments:     s.FailedPayments,
		TotalSpent:         s.TotalSpent.StringFixed(2),
	}
	if last := s.LastPayment; last != nil {
		resp.LastPaymentDate = &last.CreatedAt
		resp.LastPaymentStatus = lo.ToPtr(string(last.Status))
		resp.LastPaymentAmount = lo.ToPtr(last.Amount.StringFixed(2))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toPaymentResponse(p *payment.Payment) paymentResponse {
	resp := paymentResponse{
		PaymentID:            p.PaymentID,
		UserID:               p.UserID,
		Amount:               p.Amount.StringFixed(2),
		Status:               string(p.Status),
		Description:          p.Description,
		PaymentMethodDetails: p.PaymentMethodDetails,
		PaymentMetadata:      p.Metadata,
		CreatedAt:            p.CreatedAt,
		CapturedAt:           p.CapturedAt,
		ProvisionedAt:        p.ProvisionedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if p.IncomeAmount != nil {
		resp.IncomeAmount = lo.ToPtr(p.IncomeAmount.StringFixed(2))
	}
	if p.PaymentMethod != nil {
		resp.PaymentMethod = lo.ToPtr(string(*p.PaymentMethod))
	}
	return resp
}

func listCriteriaFromQuery(r *http.Request) (payment.ListCriteria, error) {
	q := r.URL.Query()
	criteria := payment.ListCriteria{Limit: payment.DefaultListLimit}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := payment.Status(strings.TrimSpace(s))
			if !status.Valid() {
				return criteria, apperr.InvalidErr("Unknown payment status", map[string]string{"status": "oneof"})
			}
			criteria.Statuses = append(criteria.Statuses, status)
		}
	}

	var err error
	if criteria.From, err = parseDate(q.Get("start_date"), "start_date"); err != nil {
		return criteria, err
	}
	if criteria.To, err = parseDate(q.Get("end_date"), "end_date"); err != nil {
		return criteria, err
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > payment.MaxListLimit {
			return criteria, apperr.InvalidErr("limit must be between 1 and 100", map[string]string{"limit": "range"})
		}
		criteria.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return criteria, apperr.InvalidErr("offset must not be negative", map[string]string{"offset": "min"})
		}
		criteria.Offset = offset
	}
	return criteria, nil
}

// parseDate accepts the timestamp layouts and plain dates.
func parseDate(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := parseTimestamp(raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	return nil, apperr.InvalidErr("Invalid "+field, map[string]string{field: "datetime"})
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, apperr.InvalidErr("Invalid "+name, map[string]string{name: "int"})
	}
	return v, nil
}
