package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	environment "vpnkeys-bot/internal/env"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := environment.Setup(ctx)
	if err != nil {
		log.Fatalf("Failed to setup environment: %v", err)
	}

	logger := env.Logger
	logger.Info("Starting vpnkeys-bot application")

	if env.Servers.HTTP.Observability != nil {
		go func() {
			logger.Info("Starting observability server", slog.String("addr", env.Servers.HTTP.Observability.Addr))
			if err := env.Servers.HTTP.Observability.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Observability server error", slog.Any("error", err))
			}
		}()
	}

	var updates sync.WaitGroup
	if err := startTelegramBot(ctx, env, &updates); err != nil {
		logger.Error("Failed to start telegram bot", slog.Any("error", err))
		shutdown(env, &updates)
		return
	}

	go func() {
		srv := env.Servers.HTTP.API
		logger.Info("Starting API server", slog.String("addr", srv.Addr), slog.Bool("tls", env.Servers.APITLS))

		var err error
		if env.Servers.APITLS {
			err = srv.ListenAndServeTLS(env.Config.Webhook.SSLCert, env.Config.Webhook.SSLPriv)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server error", slog.Any("error", err))
			stop()
		}
	}()

	if err := env.Services.Workers.Start(ctx); err != nil {
		logger.Error("Failed to start workers", slog.Any("error", err))
		shutdown(env, &updates)
		return
	}

	logger.Info("Bot started successfully. Press Ctrl+C to stop.")
	<-ctx.Done()

	shutdown(env, &updates)
}

func shutdown(env *environment.Env, updates *sync.WaitGroup) {
	logger := env.Logger
	logger.Info("Shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Config.ShutdownDuration)
	defer cancel()

	// сначала перестаем принимать вебхуки, потом дожидаемся начатых обработок
	if err := env.Servers.HTTP.API.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("API server shutdown error", slog.Any("error", err))
	}

	env.Clients.TelegramBot.Stop()
	env.Services.Workers.Stop()

	done := make(chan struct{})
	go func() {
		updates.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for bot updates to finish")
	}

	if env.Servers.HTTP.Observability != nil {
		if err := env.Servers.HTTP.Observability.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Observability server shutdown error", slog.Any("error", err))
		}
	}

	for _, closer := range env.Closers {
		closer()
	}

	logger.Info("Application stopped")
}

func startTelegramBot(ctx context.Context, env *environment.Env, inflight *sync.WaitGroup) error {
	logger := env.Logger
	bot := env.Clients.TelegramBot
	router := env.Services.TelegramRouter

	if env.Config.Webhook.Enabled() {
		if err := bot.StartWebhook(ctx, env.Config.Webhook.URL(), env.Config.Webhook.SSLCert); err != nil {
			return fmt.Errorf("запуск telegram вебхука: %w", err)
		}
	} else if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("запуск telegram клиента: %w", err)
	}

	if err := router.SetupBotCommands(); err != nil {
		// не критично, команды просто не появятся в меню
		logger.Error("Failed to setup bot commands", slog.Any("error", err))
	} else {
		logger.Info("Bot commands set up successfully")
	}

	updates := bot.GetUpdates()
	// начатая обработка доживает до конца даже после сигнала остановки
	handleCtx := context.WithoutCancel(ctx)
	logger.Info("Started listening for updates with router...")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.From != nil && update.Message.Chat != nil {
					logger.Debug("Получено сообщение",
						slog.Int64("chat_id", update.Message.Chat.ID),
						slog.Int64("user_id", update.Message.From.ID))
				}

				inflight.Add(1)
				go func() {
					defer inflight.Done()
					if err := router.Route(handleCtx, update); err != nil {
						logger.Error("Ошибка обработки обновления", slog.Any("error", err))
					}
				}()
			}
		}
	}()

	return nil
}
