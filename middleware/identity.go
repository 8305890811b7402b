package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"

	"github.com/loanflow/gatekeeper"
)

// Identity headers set by Gate on forwarded requests.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderSignature = "X-Identity-Signature"
)

// SignIdentity returns the signature Gate attaches to the identity headers.
func SignIdentity(secret []byte, subject string, role gatekeeper.Role) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(subject))
	mac.Write([]byte{0})
	mac.Write([]byte(role))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func verifyIdentity(secret []byte, subject string, role gatekeeper.Role, signature string) bool {
	want := SignIdentity(secret, subject, role)
	return hmac.Equal([]byte(want), []byte(signature))
}

func stripIdentityHeaders(h http.Header) {
	h.Del(HeaderUserID)
	h.Del(HeaderUserRole)
	h.Del(HeaderSignature)
}

// Caller is the identity a downstream service accepted from signed headers.
type Caller struct {
	Subject string
	Role    gatekeeper.Role
}

type callerContextKey struct{}

// CallerFromContext returns the caller stored by TrustedIdentity.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerContextKey{}).(Caller)
	return c, ok
}

// TrustedIdentity is for services behind the gate. It accepts the identity
// headers only when their signature verifies under secret and answers 401
// otherwise.
func TrustedIdentity(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := r.Header.Get(HeaderUserID)
			role, ok := gatekeeper.ParseRole(r.Header.Get(HeaderUserRole))
			signature := r.Header.Get(HeaderSignature)

			if len(secret) == 0 || subject == "" || !ok || !verifyIdentity(secret, subject, role, signature) {
				writeError(w, http.StatusUnauthorized, msgInvalidToken, codeUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerContextKey{}, Caller{Subject: subject, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCallerRole is the TrustedIdentity counterpart of RequireRole.
func RequireCallerRole(role gatekeeper.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := CallerFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, msgInvalidToken, codeUnauthorized)
				return
			}
			if c.Role != role {
				writeError(w, http.StatusForbidden, msgForbidden, codeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
