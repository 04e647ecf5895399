package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options configure the public API server.
type Options struct {
	SecretToken       string
	TrustProxyHeaders bool
	AllowedIPs        *IPAllowList
	RateLimit         *RateLimiter
	RequestTimeout    time.Duration

	// TelegramPath/TelegramHandler принимают обновления бота в режиме webhook.
	TelegramPath    string
	TelegramHandler http.Handler
}

type Handlers struct {
	Webhook  *WebhookHandler
	Payments *PaymentsHandler
	Referral *ReferralHandler
	Messages *MessagesHandler
}

func NewRouter(h Handlers, opts Options, metrics *Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(logger, metrics))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	if opts.TelegramHandler != nil && opts.TelegramPath != "" {
		r.Method(http.MethodPost, opts.TelegramPath, opts.TelegramHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.Webhook.AllowIPs(opts.AllowedIPs))
			r.Method(http.MethodPost, "/webhook/yookassa", h.Webhook)
			r.Method(http.MethodPost, "/payments/webhook/yookassa", h.Webhook)
		})

		r.Group(func(r chi.Router) {
			if opts.RateLimit != nil {
				r.Use(opts.RateLimit.Middleware)
			}
			r.Use(bearerAuth(opts.SecretToken, logger))

			h.Payments.Routes(r)
			h.Referral.Routes(r)
			h.Messages.Routes(r)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
	})

	return r
}
