package environment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"vpnkeys-bot/internal/api"
	"vpnkeys-bot/internal/config"
)

type Servers struct {
	HTTP struct {
		Observability *http.Server
		API           *http.Server
	}
	// APITLS is set when the API server must serve HTTPS with the webhook certificate.
	APITLS bool
}

func newServers(ctx context.Context, cfg config.Config, logger *slog.Logger, clients *Clients, services *Services) (*Servers, error) {
	var servers Servers

	apiServer, err := initAPI(cfg, logger.WithGroup("http"), clients, services)
	if err != nil {
		return nil, err
	}

	servers.HTTP.API = apiServer
	servers.APITLS = cfg.Webhook.TLSEnabled()
	servers.HTTP.Observability = initObservability(ctx, logger.WithGroup("http"), clients, cfg)

	return &servers, nil
}

func initAPI(cfg config.Config, logger *slog.Logger, clients *Clients, services *Services) (*http.Server, error) {
	allowed, err := api.NewIPAllowList(cfg.YooKassa.AllowedIPs)
	if err != nil {
		return nil, err
	}

	metrics := api.NewMetrics(prometheus.DefaultRegisterer)
	validator := api.NewValidator()

	opts := api.Options{
		SecretToken:       cfg.API.SecretToken,
		TrustProxyHeaders: cfg.API.TrustProxyHeaders,
		AllowedIPs:        allowed,
		RateLimit:         api.NewRateLimiter(cfg.API.RateLimitRequests, cfg.API.RateLimitWindow),
		RequestTimeout:    cfg.WebApp.WriteTimeout,
	}
	if cfg.Webhook.Enabled() {
		opts.TelegramPath = cfg.Webhook.Path
		opts.TelegramHandler = clients.TelegramBot.WebhookHandler()
	}
	if opts.SecretToken == "" {
		logger.Warn("API_SECRET_TOKEN is empty, internal API rejects every request")
	}

	handler := api.NewRouter(api.Handlers{
		Webhook:  api.NewWebhookHandler(services.Reconcile, metrics, logger),
		Payments: api.NewPaymentsHandler(services.Payments, validator, logger),
		Referral: api.NewReferralHandler(services.Referral, validator, logger),
		Messages: api.NewMessagesHandler(services.Messages, validator, logger),
	}, opts, metrics, logger)

	return &http.Server{
		Handler:           handler,
		Addr:              cfg.WebApp.ADDR(),
		ReadTimeout:       cfg.WebApp.ReadTimeout,
		WriteTimeout:      cfg.WebApp.WriteTimeout,
		IdleTimeout:       cfg.WebApp.IdleTimeout,
		ReadHeaderTimeout: cfg.WebApp.ReadTimeout,
	}, nil
}
