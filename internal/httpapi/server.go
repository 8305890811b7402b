package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/loanflow/gatekeeper"
	"github.com/loanflow/gatekeeper/middleware"
	"go.uber.org/zap"
)

// PublicPaths skip the authentication gate. The engine's refresh path is
// added by NewServer.
var PublicPaths = []string{
	"/auth/register",
	"/auth/login",
	"/auth/logout",
	"/auth/is-authenticated",
	"/auth/send-otp",
	"/auth/verify-otp",
	"/auth/send-reset-otp",
	"/auth/reset-password",
	"/healthz",
	"/metrics",
}

// ServerConfig carries the HTTP-facing settings NewServer needs.
type ServerConfig struct {
	// ExtraPublicPaths are added to PublicPaths.
	ExtraPublicPaths []string
	// ProtectedPrefixes are rate limited; empty means the middleware default.
	// The refresh path is always limited.
	ProtectedPrefixes []string
	IdentitySecret    []byte
	Cookies           CookieConfig
}

// NewServer builds the echo instance: recovery, request logging, rate
// limiting, then the authentication gate, then the /auth routes. Callers
// add further routes (gateway, metrics) to the returned instance.
func NewServer(engine *gatekeeper.Engine, limiter middleware.Limiter, cfg ServerConfig, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger.Named("http"))

	e.Use(echomw.Recover())
	e.Use(requestLogger(logger.Named("http")))

	refreshPath := engine.RefreshPath()
	protected := cfg.ProtectedPrefixes
	if len(protected) == 0 {
		protected = middleware.DefaultProtectedPrefixes
	}
	protected = withPath(protected, refreshPath)

	e.Use(echo.WrapMiddleware(middleware.RateLimit(limiter, middleware.RateLimitConfig{
		ProtectedPrefixes: protected,
		OnReject: func(r *http.Request) {
			engine.RecordRateLimited(gatekeeper.WithClientIP(r.Context(), middleware.ClientIP(r)), r.URL.Path)
		},
	})))
	e.Use(echo.WrapMiddleware(middleware.Gate(engine, middleware.GateConfig{
		PublicPaths:    append(withPath(PublicPaths, refreshPath), cfg.ExtraPublicPaths...),
		CookieName:     cfg.Cookies.withDefaults().AccessName,
		IdentitySecret: cfg.IdentitySecret,
	})))

	NewHandler(engine, cfg.Cookies, logger).Routes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return success(c, http.StatusOK, "OK", nil)
	})

	return e
}

// Routes registers the /auth endpoints, the refresh route at the engine's
// refresh path, and the admin verification override.
func (h *Handler) Routes(e *echo.Echo) {
	e.POST(h.engine.RefreshPath(), h.refresh)
	e.PATCH("/admin/verify-user/:email", h.forceVerify, RequireRole(h.engine, gatekeeper.RoleAdmin))

	g := e.Group("/auth")

	g.POST("/register", h.register)
	g.POST("/register-admin", h.registerAdmin, RequireRole(h.engine, gatekeeper.RoleAdmin))
	g.POST("/login", h.login)
	g.POST("/logout", h.logout)
	g.GET("/is-authenticated", h.isAuthenticated)
	g.GET("/profile", h.profile)
	g.POST("/send-otp", h.sendVerifyOTP)
	g.POST("/verify-otp", h.verifyOTP)
	g.POST("/send-reset-otp", h.sendResetOTP)
	g.POST("/reset-password", h.resetPassword)
}

// RequireRole adapts middleware.RequireRole to echo and records refusals
// on the engine.
func RequireRole(engine *gatekeeper.Engine, role gatekeeper.Role) echo.MiddlewareFunc {
	return echo.WrapMiddleware(middleware.RequireRole(role, func(r *http.Request, id gatekeeper.Identity) {
		engine.RecordRoleDenied(gatekeeper.WithClientIP(r.Context(), middleware.ClientIP(r)), id, role)
	}))
}

// withPath returns a copy of paths that includes path.
func withPath(paths []string, path string) []string {
	out := make([]string, 0, len(paths)+1)
	for _, p := range paths {
		if p == path {
			return append(out, paths...)
		}
	}
	out = append(out, paths...)
	return append(out, path)
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency.Round(time.Microsecond)),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("request_id", v.RequestID),
			)
			return nil
		},
	})
}
