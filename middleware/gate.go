package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/loanflow/gatekeeper"
)

// DefaultCookieName is the access token cookie set at login.
const DefaultCookieName = "jwt"

// Authenticator verifies an access token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (gatekeeper.Identity, error)
}

// GateConfig configures Gate.
type GateConfig struct {
	// PublicPaths are matched exactly and skip authentication.
	PublicPaths []string
	// CookieName defaults to DefaultCookieName.
	CookieName string
	// IdentitySecret signs the forwarded identity headers. Without it the
	// headers are stripped but not set.
	IdentitySecret []byte
}

// Gate authenticates every non-public request. The bearer header wins over
// the cookie. Client-supplied identity headers are always removed; on
// success the verified identity is set as signed headers and stored in the
// request context.
func Gate(auth Authenticator, cfg GateConfig) func(http.Handler) http.Handler {
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	public := make(map[string]struct{}, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stripIdentityHeaders(r.Header)

			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := ExtractToken(r, cookieName)
			if !ok || auth == nil {
				writeError(w, http.StatusUnauthorized, msgInvalidToken, codeUnauthorized)
				return
			}

			id, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgInvalidToken, codeUnauthorized)
				return
			}

			if len(cfg.IdentitySecret) > 0 {
				r.Header.Set(HeaderUserID, id.Subject())
				r.Header.Set(HeaderUserRole, string(id.Role()))
				r.Header.Set(HeaderSignature, SignIdentity(cfg.IdentitySecret, id.Subject(), id.Role()))
			}

			next.ServeHTTP(w, r.WithContext(gatekeeper.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole answers 403 unless the identity stored by Gate has role.
// onDenied, if set, is called for each refusal.
func RequireRole(role gatekeeper.Role, onDenied func(r *http.Request, id gatekeeper.Identity)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := gatekeeper.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, msgInvalidToken, codeUnauthorized)
				return
			}
			if id.Role() != role {
				if onDenied != nil {
					onDenied(r, id)
				}
				writeError(w, http.StatusForbidden, msgForbidden, codeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractToken returns the bearer token, or else the named cookie.
func ExtractToken(r *http.Request, cookieName string) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
