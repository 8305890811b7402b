package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/loanflow/gatekeeper"
	"go.uber.org/zap"
)

// Envelope is the body of every response.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode,omitempty"`
	Data      any    `json:"data,omitempty"`
}

const (
	codeUnauthorized = "AUTH_401"
	codeForbidden    = "AUTH_403"
	codeLocked       = "AUTH_LOCKED"
	codeOTPInvalid   = "OTP_INVALID"
	codeOTPExpired   = "OTP_EXPIRED"
	codeConflict     = "ERR_409"
	codeNotFound     = "ERR_404"
	codeValidation   = "VAL_400"
	codeInternal     = "INTERNAL_500"
)

func success(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

func failure(c echo.Context, status int, message, code string) error {
	return c.JSON(status, Envelope{Message: message, ErrorCode: code})
}

// engineError maps an engine error to its response. Unknown errors are
// logged and answered with a generic 500.
func (h *Handler) engineError(c echo.Context, err error) error {
	var locked *gatekeeper.LockedError

	switch {
	case errors.As(err, &locked):
		return failure(c, http.StatusForbidden, lockedMessage(time.Until(locked.Until)), codeLocked)
	case errors.Is(err, gatekeeper.ErrAccountLocked):
		return failure(c, http.StatusForbidden, lockedMessage(0), codeLocked)
	case errors.Is(err, gatekeeper.ErrInvalidCredentials):
		return failure(c, http.StatusUnauthorized, "Invalid email or password", codeUnauthorized)
	case errors.Is(err, gatekeeper.ErrAccountUnverified):
		return failure(c, http.StatusForbidden, "Email address is not verified", codeForbidden)
	case errors.Is(err, gatekeeper.ErrRefreshInvalid):
		return failure(c, http.StatusUnauthorized, "Invalid or expired refresh token", codeUnauthorized)
	case errors.Is(err, gatekeeper.ErrUnauthorized):
		return failure(c, http.StatusUnauthorized, "Invalid or missing token", codeUnauthorized)
	case errors.Is(err, gatekeeper.ErrForbidden):
		return failure(c, http.StatusForbidden, "Access denied", codeForbidden)
	case errors.Is(err, gatekeeper.ErrOTPInvalid):
		return failure(c, http.StatusBadRequest, "Invalid OTP", codeOTPInvalid)
	case errors.Is(err, gatekeeper.ErrOTPExpired):
		return failure(c, http.StatusBadRequest, "OTP has expired", codeOTPExpired)
	case errors.Is(err, gatekeeper.ErrAccountExists):
		return failure(c, http.StatusConflict, "An account with this email already exists", codeConflict)
	case errors.Is(err, gatekeeper.ErrAccountNotFound):
		return failure(c, http.StatusNotFound, "Account not found", codeNotFound)
	case errors.Is(err, gatekeeper.ErrPasswordPolicy):
		return failure(c, http.StatusBadRequest, "Password does not meet the length requirements", codeValidation)
	case errors.Is(err, gatekeeper.ErrInvalidRequest):
		return failure(c, http.StatusBadRequest, "Invalid request", codeValidation)
	}

	h.logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Request().URL.Path),
		zap.Error(err),
	)
	return failure(c, http.StatusInternalServerError, "Something went wrong. Please try again later.", codeInternal)
}

func lockedMessage(remaining time.Duration) string {
	const base = "Account is locked due to too many failed attempts."
	if remaining <= 0 {
		return base + " Try again later."
	}
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes == 1 {
		return base + " Try again in 1 minute."
	}
	return fmt.Sprintf("%s Try again in %d minutes.", base, minutes)
}

// errorHandler renders echo's own errors (404, 405, bind failures) in the
// envelope.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "Something went wrong. Please try again later."
		code := codeInternal

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			switch {
			case status == http.StatusNotFound:
				message, code = "Resource not found", codeNotFound
			case status < http.StatusInternalServerError:
				message, code = http.StatusText(status), codeValidation
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("unhandled error", zap.String("path", c.Request().URL.Path), zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = failure(c, status, message, code)
	}
}
