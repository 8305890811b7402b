// Package httpapi serves the /auth endpoints over echo and assembles the
// server middleware chain.
package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/loanflow/gatekeeper"
	"github.com/loanflow/gatekeeper/middleware"
	"go.uber.org/zap"
)

// Handler serves the /auth routes on top of an Engine.
type Handler struct {
	engine  *gatekeeper.Engine
	cookies CookieConfig
	logger  *zap.Logger
}

func NewHandler(engine *gatekeeper.Engine, cookies CookieConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:  engine,
		cookies: cookies.withDefaults(),
		logger:  logger.Named("httpapi"),
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

type authResponse struct {
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type profileResponse struct {
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Verified  bool       `json:"isAccountVerified"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

func toProfileResponse(p gatekeeper.Profile) profileResponse {
	out := profileResponse{
		UserID:   p.UserID,
		Name:     p.Name,
		Email:    p.Email,
		Role:     string(p.Role),
		Verified: p.Verified,
	}
	if !p.LastLogin.IsZero() {
		last := p.LastLogin
		out.LastLogin = &last
	}
	return out
}

// requestContext carries the client IP into engine audit events.
func requestContext(c echo.Context) context.Context {
	return gatekeeper.WithClientIP(c.Request().Context(), middleware.ClientIP(c.Request()))
}

func (h *Handler) register(c echo.Context) error {
	return h.registerWith(c, h.engine.Register, "Account created")
}

func (h *Handler) registerAdmin(c echo.Context) error {
	return h.registerWith(c, h.engine.RegisterAdmin, "Admin account created")
}

func (h *Handler) registerWith(
	c echo.Context,
	create func(context.Context, gatekeeper.RegisterRequest) (gatekeeper.Profile, error),
	message string,
) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "Invalid request body", codeValidation)
	}

	profile, err := create(requestContext(c), gatekeeper.RegisterRequest{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		return h.engineError(c, err)
	}
	return success(c, http.StatusCreated, message, toProfileResponse(profile))
}

func (h *Handler) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "Invalid request body", codeValidation)
	}

	res, err := h.engine.Login(requestContext(c), req.Email, req.Password)
	if err != nil {
		return h.engineError(c, err)
	}

	c.SetCookie(h.cookies.cookie(h.cookies.AccessName, res.AccessToken, "/", h.engine.AccessTTL()))
	c.SetCookie(h.cookies.cookie(h.cookies.RefreshName, res.RefreshToken, h.engine.RefreshPath(), h.engine.RefreshTTL()))

	return success(c, http.StatusOK, "Login successful", authResponse{
		Email:     res.Subject,
		Role:      string(res.Role),
		Token:     res.AccessToken,
		ExpiresAt: res.AccessExpiresAt,
	})
}

func (h *Handler) refresh(c echo.Context) error {
	token, ok := middleware.ExtractToken(c.Request(), h.cookies.RefreshName)
	if !ok {
		return h.engineError(c, gatekeeper.ErrRefreshInvalid)
	}

	res, err := h.engine.Refresh(requestContext(c), token, c.Request().URL.Path)
	if err != nil {
		return h.engineError(c, err)
	}

	c.SetCookie(h.cookies.cookie(h.cookies.AccessName, res.AccessToken, "/", h.engine.AccessTTL()))
	return success(c, http.StatusOK, "Token refreshed", authResponse{
		Email:     res.Subject,
		Role:      string(res.Role),
		Token:     res.AccessToken,
		ExpiresAt: res.AccessExpiresAt,
	})
}

func (h *Handler) logout(c echo.Context) error {
	c.SetCookie(h.cookies.cookie(h.cookies.AccessName, "", "/", 0))
	c.SetCookie(h.cookies.cookie(h.cookies.RefreshName, "", h.engine.RefreshPath(), 0))
	return success(c, http.StatusOK, "Logged out successfully", nil)
}

// isAuthenticated reports whether the request carries a valid access
// token. It never fails.
func (h *Handler) isAuthenticated(c echo.Context) error {
	authenticated := false
	if token, ok := middleware.ExtractToken(c.Request(), h.cookies.AccessName); ok {
		_, err := h.engine.Authenticate(c.Request().Context(), token)
		authenticated = err == nil
	}
	return success(c, http.StatusOK, "OK", authenticated)
}

func (h *Handler) profile(c echo.Context) error {
	id, ok := gatekeeper.IdentityFromContext(c.Request().Context())
	if !ok {
		return h.engineError(c, gatekeeper.ErrUnauthorized)
	}

	profile, err := h.engine.Profile(requestContext(c), id.Subject())
	if err != nil {
		return h.engineError(c, err)
	}
	return success(c, http.StatusOK, "OK", toProfileResponse(profile))
}

// sendVerifyOTP and sendResetOTP answer identically whatever the outcome,
// so the response does not tell whether the email is registered.
func (h *Handler) sendVerifyOTP(c echo.Context) error {
	if _, err := h.engine.SendVerificationOTP(requestContext(c), c.QueryParam("email")); err != nil {
		return h.engineError(c, err)
	}
	return success(c, http.StatusOK, "Verification OTP sent", nil)
}

func (h *Handler) sendResetOTP(c echo.Context) error {
	if _, err := h.engine.SendResetOTP(requestContext(c), c.QueryParam("email")); err != nil {
		return h.engineError(c, err)
	}
	return success(c, http.StatusOK, "Reset OTP sent", nil)
}

func (h *Handler) verifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "Invalid request body", codeValidation)
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" {
		return failure(c, http.StatusBadRequest, "Missing OTP or Email", codeValidation)
	}

	if err := h.engine.VerifyEmail(requestContext(c), req.Email, req.OTP); err != nil {
		return h.engineError(c, err)
	}
	return success(c, http.StatusOK, "Email verified successfully", nil)
}

func (h *Handler) forceVerify(c echo.Context) error {
	email, err := url.PathUnescape(c.Param("email"))
	if err != nil || strings.TrimSpace(email) == "" {
		return failure(c, http.StatusBadRequest, "Invalid email", codeValidation)
	}

	if err := h.engine.ForceVerify(requestContext(c), email); err != nil {
		return h.engineError(c, err)
	}
	return success(c, http.StatusOK, "User verified", nil)
}

func (h *Handler) resetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "Invalid request body", codeValidation)
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.OTP) == "" || req.NewPassword == "" {
		return failure(c, http.StatusBadRequest, "Email, OTP and new password are required", codeValidation)
	}

	if err := h.engine.ResetPassword(requestContext(c), req.Email, req.OTP, req.NewPassword); err != nil {
		return h.engineError(c, err)
	}
	return success(c, http.StatusOK, "Password reset successfully", nil)
}
