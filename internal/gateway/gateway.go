// Package gateway forwards authenticated traffic to downstream services.
//
// Requests reach a route only after the authentication gate has replaced any
// client-supplied identity headers with signed ones, so downstream services
// verify the caller with middleware.TrustedIdentity instead of parsing tokens.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/loanflow/gatekeeper"
	"github.com/loanflow/gatekeeper/internal/httpapi"
	"go.uber.org/zap"
)

var ErrNoTargets = errors.New("gateway route has no targets")

// Route sends every request under Prefix to one of Targets, round robin.
// A non-empty Role restricts the route to callers holding it.
type Route struct {
	Prefix  string
	Targets []string
	Role    gatekeeper.Role
}

// Register mounts routes on e. The authentication gate must already be in
// e's middleware chain.
func Register(e *echo.Echo, engine *gatekeeper.Engine, routes []Route, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("gateway")

	for _, route := range routes {
		balancer, err := newBalancer(route)
		if err != nil {
			return err
		}

		var mws []echo.MiddlewareFunc
		if route.Role != "" {
			mws = append(mws, httpapi.RequireRole(engine, route.Role))
		}
		mws = append(mws, echomw.ProxyWithConfig(echomw.ProxyConfig{
			Balancer: balancer,
			ErrorHandler: func(c echo.Context, err error) error {
				logger.Warn("downstream unavailable",
					zap.String("prefix", route.Prefix),
					zap.String("path", c.Request().URL.Path),
					zap.Error(err),
				)
				return echo.NewHTTPError(http.StatusBadGateway, "downstream unavailable").SetInternal(err)
			},
		}))

		e.Group(strings.TrimSuffix(route.Prefix, "/"), mws...)
		logger.Info("route mounted",
			zap.String("prefix", route.Prefix),
			zap.Int("targets", len(route.Targets)),
			zap.String("role", string(route.Role)),
		)
	}
	return nil
}

func newBalancer(route Route) (echomw.ProxyBalancer, error) {
	if !strings.HasPrefix(route.Prefix, "/") {
		return nil, fmt.Errorf("gateway prefix %q must be an absolute path", route.Prefix)
	}
	if len(route.Targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTargets, route.Prefix)
	}

	targets := make([]*echomw.ProxyTarget, 0, len(route.Targets))
	for _, raw := range route.Targets {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("gateway target %q for %s is not an absolute URL", raw, route.Prefix)
		}
		targets = append(targets, &echomw.ProxyTarget{Name: u.Host, URL: u})
	}
	return echomw.NewRoundRobinBalancer(targets), nil
}
