package app

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/loanflow/gatekeeper"
	"github.com/loanflow/gatekeeper/internal/config"
	"github.com/loanflow/gatekeeper/internal/gateway"
	"github.com/loanflow/gatekeeper/internal/httpapi"
	"github.com/loanflow/gatekeeper/internal/rate"
	"github.com/loanflow/gatekeeper/metrics/export/prometheus"
)

// newServer assembles the echo instance: the /auth API, the downstream
// gateway routes and the metrics endpoint.
func newServer(
	cfg *config.AppConfig,
	engine *gatekeeper.Engine,
	limiter *rate.Limiter,
	logger *zap.Logger,
) (*echo.Echo, error) {
	e := httpapi.NewServer(engine, limiter, httpapi.ServerConfig{
		ExtraPublicPaths:  cfg.Server.PublicPaths,
		ProtectedPrefixes: cfg.Server.ProtectedPrefixes,
		IdentitySecret:    []byte(cfg.Server.IdentitySecret),
		Cookies: httpapi.CookieConfig{
			AccessName:  cfg.Cookies.AccessName,
			RefreshName: cfg.Cookies.RefreshName,
			Domain:      cfg.Cookies.Domain,
			Secure:      cfg.Cookies.Secure,
		},
	}, logger)

	routes := make([]gateway.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		route := gateway.Route{Prefix: r.Prefix, Targets: r.Targets}
		if r.Role != "" {
			role, ok := gatekeeper.ParseRole(r.Role)
			if !ok {
				return nil, fmt.Errorf("route %s: unknown role %q", r.Prefix, r.Role)
			}
			route.Role = role
		}
		routes = append(routes, route)
	}
	if err := gateway.Register(e, engine, routes, logger); err != nil {
		return nil, err
	}

	exporter := prometheus.NewExporter(engine)
	exporter.AddGauge("gatekeeper_rate_limit_buckets", "Client buckets held by the rate limiter.", limiter.Len)
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	return e, nil
}
