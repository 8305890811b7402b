// Package app wires the gatekeeper service together with fx.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/loanflow/gatekeeper"
	"github.com/loanflow/gatekeeper/internal/config"
	"github.com/loanflow/gatekeeper/internal/logging"
	"github.com/loanflow/gatekeeper/internal/notify"
	"github.com/loanflow/gatekeeper/internal/rate"
)

// Module combines all application modules. The configuration comes from
// config.LoadFromEnv; tests swap it with fx.Replace.
func Module() fx.Option {
	return fx.Options(
		// Configuration
		fx.Provide(config.LoadFromEnv),

		// Logger
		fx.Provide(newLogger),

		// Storage and mail
		fx.Provide(newAccountStore),
		fx.Provide(newNotifier),

		// Engine
		fx.Provide(newEngine),
		fx.Provide(newLimiter),

		// HTTP
		fx.Provide(newServer),

		fx.Invoke(registerHooks),
	)
}

func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	return logging.New(cfg.Env)
}

func newNotifier(cfg *config.AppConfig, logger *zap.Logger) (gatekeeper.Notifier, error) {
	switch cfg.Notifier.Driver {
	case config.NotifierResend:
		return notify.NewResendSender(notify.ResendConfig{
			APIKey:  cfg.Notifier.ResendAPIKey,
			From:    cfg.Notifier.From,
			BaseURL: cfg.Notifier.BaseURL,
			Timeout: cfg.Notifier.Timeout,
		})
	default:
		return notify.NewLogSender(logger), nil
	}
}

func newEngine(
	lifecycle fx.Lifecycle,
	cfg *config.AppConfig,
	store gatekeeper.AccountStore,
	notifier gatekeeper.Notifier,
	logger *zap.Logger,
) (*gatekeeper.Engine, error) {
	engineConfig, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}

	engine, err := gatekeeper.New().
		WithConfig(engineConfig).
		WithAccountStore(store).
		WithNotifier(notifier).
		WithAuditSink(gatekeeper.NewZapSink(logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, err
	}

	lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("draining audit and mail queues")
			engine.Close()
			return nil
		},
	})
	return engine, nil
}

func newLimiter(cfg *config.AppConfig) *rate.Limiter {
	return rate.New(rate.Config{
		Capacity:     cfg.RateLimit.Capacity,
		RefillTokens: cfg.RateLimit.RefillTokens,
		RefillPeriod: cfg.RateLimit.RefillPeriod,
	})
}

func registerHooks(
	lifecycle fx.Lifecycle,
	cfg *config.AppConfig,
	e *echo.Echo,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Server.Addr())
			if err != nil {
				return err
			}
			e.Listener = ln

			log.Info("starting http server",
				zap.String("address", ln.Addr().String()),
				zap.String("env", cfg.Env),
				zap.String("store", cfg.Store.Driver),
			)
			go func() {
				if err := e.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	})
}
