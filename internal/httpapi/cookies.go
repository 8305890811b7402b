package httpapi

import (
	"net/http"
	"time"
)

const (
	defaultAccessCookie  = "jwt"
	defaultRefreshCookie = "refresh_jwt"
)

// CookieConfig controls the token cookies. Both are HttpOnly and
// SameSite=Lax; the refresh cookie is scoped to the refresh path.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	Domain      string
	Secure      bool
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.AccessName == "" {
		c.AccessName = defaultAccessCookie
	}
	if c.RefreshName == "" {
		c.RefreshName = defaultRefreshCookie
	}
	return c
}

func (c CookieConfig) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl / time.Second)
	if ttl <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
