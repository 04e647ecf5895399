package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"vpnkeys-bot/internal/marzban"
	"vpnkeys-bot/internal/stories/referral"
	"vpnkeys-bot/internal/stories/users"
)

type referralService interface {
	Code(ctx context.Context, telegramID int64) (*users.User, error)
	Apply(ctx context.Context, telegramID int64, code string) (*users.User, error)
	Bonuses(ctx context.Context, telegramID int64, activeOnly bool) ([]*referral.Bonus, error)
	ApplyBonus(ctx context.Context, bonusID int64, username string) (*referral.Bonus, *marzban.Extension, error)
}

type applyReferralRequest struct {
	UserID       int64  `json:"user_id" validate:"gt=0"`
	ReferralCode string `json:"referral_code" validate:"required,max=32"`
}

type applyBonusRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

type referralUserResponse struct {
	UserID       int64   `json:"user_id"`
	ReferralCode *string `json:"referral_code"`
	ReferrerID   *int64  `json:"referrer_id"`
}

type bonusResponse struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"telegram_user_id"`
	Amount    int        `json:"amount"`
	BonusType string     `json:"bonus_type"`
	IsApplied bool       `json:"is_applied"`
	CreatedAt time.Time  `json:"created_at"`
	AppliedAt *time.Time `json:"applied_at"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type applyBonusResponse struct {
	Success        bool          `json:"success"`
	Bonus          bonusResponse `json:"bonus"`
	Username       string        `json:"username"`
	PreviousExpiry *time.Time    `json:"previous_expiry"`
	NewExpiry      time.Time     `json:"new_expiry"`
}

// ReferralHandler serves /api/referral.
type ReferralHandler struct {
	referral  referralService
	validator *Validator
	logger    *slog.Logger
}

func NewReferralHandler(referral referralService, validator *Validator, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{referral: referral, validator: validator, logger: logger}
}

func (h *ReferralHandler) Routes(r chi.Router) {
	r.Post("/referral/code/{user_id}", h.code)
	r.Post("/referral/apply", h.apply)
	r.Get("/referral/bonuses/{user_id}", h.bonuses)
	r.Post("/referral/bonuses/{bonus_id}/apply", h.applyBonus)
}

func (h *ReferralHandler) code(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.referral.Code(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toReferralUser(user))
}

func (h *ReferralHandler) apply(w http.ResponseWriter, r *http.Request) {
	var req applyReferralRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.referral.Apply(r.Context(), req.UserID, req.ReferralCode)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toReferralUser(user))
}

func (h *ReferralHandler) bonuses(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))

	list, err := h.referral.Bonuses(r.Context(), userID, activeOnly)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(list, func(b *referral.Bonus, _ int) bonusResponse { return toBonusResponse(b) }))
}

func (h *ReferralHandler) applyBonus(w http.ResponseWriter, r *http.Request) {
	bonusID, err := pathInt64(r, "bonus_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req applyBonusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	bonus, ext, err := h.referral.ApplyBonus(r.Context(), bonusID, req.Username)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, applyBonusResponse{
		Success:        true,
		Bonus:          toBonusResponse(bonus),
		Username:       ext.Username,
		PreviousExpiry: ext.PreviousExpiry,
		NewExpiry:      ext.ExpiresAt,
	})
}

func toReferralUser(u *users.User) referralUserResponse {
	return referralUserResponse{
		UserID:       u.TelegramID,
		ReferralCode: u.ReferralCode,
		ReferrerID:   u.ReferrerID,
	}
}

func toBonusResponse(b *referral.Bonus) bonusResponse {
	return bonusResponse{
		ID:        b.ID,
		UserID:    b.TelegramID,
		Amount:    b.Days,
		BonusType: b.BonusType,
		IsApplied: b.IsApplied,
		CreatedAt: b.CreatedAt,
		AppliedAt: b.AppliedAt,
		ExpiresAt: b.ExpiresAt,
	}
}
