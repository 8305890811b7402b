package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loanflow/gatekeeper"
	"github.com/loanflow/gatekeeper/internal/rate"
	"github.com/loanflow/gatekeeper/internal/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var identitySecret = []byte("identity-header-secret")

func newTestEngine(t *testing.T) *gatekeeper.Engine {
	t.Helper()

	cfg := gatekeeper.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("middleware-test-signing-key-0123456789")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Account.RequireVerified = false
	cfg.Account.SendWelcome = false

	engine, err := gatekeeper.New().
		WithConfig(cfg).
		WithAccountStore(stores.NewMemoryStore()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func loginAs(t *testing.T, engine *gatekeeper.Engine, email string, role gatekeeper.Role) *gatekeeper.LoginResult {
	t.Helper()

	req := gatekeeper.RegisterRequest{Email: email, Password: "right-password"}
	var err error
	if role == gatekeeper.RoleAdmin {
		_, err = engine.RegisterAdmin(context.Background(), req)
	} else {
		_, err = engine.Register(context.Background(), req)
	}
	require.NoError(t, err)

	res, err := engine.Login(context.Background(), email, "right-password")
	require.NoError(t, err)
	return res
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// echoIdentity reports what reached the downstream handler.
func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := gatekeeper.IdentityFromContext(r.Context())
		w.Header().Set("Seen-User", r.Header.Get(HeaderUserID))
		w.Header().Set("Seen-Role", r.Header.Get(HeaderUserRole))
		w.Header().Set("Seen-Signature", r.Header.Get(HeaderSignature))
		w.Header().Set("Seen-Context", id.Subject())
		w.WriteHeader(http.StatusOK)
	})
}

func TestGateAcceptsBearerAndCookie(t *testing.T) {
	engine := newTestEngine(t)
	login := loginAs(t, engine, "ava@loanflow.test", gatekeeper.RoleUser)
	handler := Gate(engine, GateConfig{IdentitySecret: identitySecret})(echoIdentity())

	bearer := httptest.NewRequest(http.MethodGet, "/loans/mine", nil)
	bearer.Header.Set("Authorization", "Bearer "+login.AccessToken)
	cookie := httptest.NewRequest(http.MethodGet, "/loans/mine", nil)
	cookie.AddCookie(&http.Cookie{Name: "jwt", Value: login.AccessToken})

	for _, req := range []*http.Request{bearer, cookie} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ava@loanflow.test", rec.Header().Get("Seen-User"))
		assert.Equal(t, "USER", rec.Header().Get("Seen-Role"))
		assert.Equal(t, "ava@loanflow.test", rec.Header().Get("Seen-Context"))
		assert.Equal(t, SignIdentity(identitySecret, "ava@loanflow.test", gatekeeper.RoleUser), rec.Header().Get("Seen-Signature"))
	}
}

func TestGateRejectsWithGenericMessage(t *testing.T) {
	engine := newTestEngine(t)
	login := loginAs(t, engine, "ben@loanflow.test", gatekeeper.RoleUser)
	handler := Gate(engine, GateConfig{})(echoIdentity())

	cases := map[string]func(*http.Request){
		"missing":       func(*http.Request) {},
		"garbage":       func(r *http.Request) { r.Header.Set("Authorization", "Bearer not-a-jwt") },
		"refresh token": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+login.RefreshToken) },
		"basic scheme":  func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9vOmJhcg==") },
		"empty cookie":  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt", Value: ""}) },
	}
	for name, mutate := range cases {
		req := httptest.NewRequest(http.MethodGet, "/loans/mine", nil)
		mutate(req)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		body := decodeError(t, rec)
		assert.False(t, body.Success, name)
		assert.Equal(t, "Invalid or missing token", body.Message, name)
		assert.Equal(t, "AUTH_401", body.ErrorCode, name)
	}
}

func TestGateStripsSpoofedHeaders(t *testing.T) {
	engine := newTestEngine(t)
	login := loginAs(t, engine, "cat@loanflow.test", gatekeeper.RoleUser)
	handler := Gate(engine, GateConfig{
		PublicPaths:    []string{"/auth/login"},
		IdentitySecret: identitySecret,
	})(echoIdentity())

	spoofed := httptest.NewRequest(http.MethodGet, "/loans/mine", nil)
	spoofed.Header.Set("Authorization", "Bearer "+login.AccessToken)
	spoofed.Header.Set(HeaderUserID, "admin@loanflow.test")
	spoofed.Header.Set(HeaderUserRole, "ADMIN")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, spoofed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cat@loanflow.test", rec.Header().Get("Seen-User"))
	assert.Equal(t, "USER", rec.Header().Get("Seen-Role"))

	public := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	public.Header.Set(HeaderUserID, "admin@loanflow.test")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, public)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Seen-User"))
}

func TestGatePublicPathsMatchExactly(t *testing.T) {
	engine := newTestEngine(t)
	handler := Gate(engine, GateConfig{PublicPaths: []string{"/auth/login"}})(echoIdentity())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login/extra", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	engine := newTestEngine(t)
	user := loginAs(t, engine, "dee@loanflow.test", gatekeeper.RoleUser)
	admin := loginAs(t, engine, "eve@loanflow.test", gatekeeper.RoleAdmin)

	var denied atomic.Int32
	handler := Gate(engine, GateConfig{})(RequireRole(gatekeeper.RoleAdmin, func(r *http.Request, id gatekeeper.Identity) {
		denied.Add(1)
		engine.RecordRoleDenied(r.Context(), id, gatekeeper.RoleAdmin)
	})(echoIdentity()))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTH_403", decodeError(t, rec).ErrorCode)
	assert.Equal(t, int32(1), denied.Load())
	assert.Equal(t, uint64(1), engine.MetricsSnapshot().Counters[gatekeeper.MetricRoleDenied])

	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+admin.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRoleWithoutGateIsUnauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireRole(gatekeeper.RoleAdmin, nil)(echoIdentity()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTrustedIdentity(t *testing.T) {
	var seen Caller
	handler := TrustedIdentity(identitySecret)(RequireCallerRole(gatekeeper.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFromContext(r.Context())
	})))

	signed := func(subject string, role gatekeeper.Role, sig string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/admin/loans", nil)
		req.Header.Set(HeaderUserID, subject)
		req.Header.Set(HeaderUserRole, string(role))
		req.Header.Set(HeaderSignature, sig)
		return req
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signed("fay@loanflow.test", gatekeeper.RoleAdmin, SignIdentity(identitySecret, "fay@loanflow.test", gatekeeper.RoleAdmin)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Caller{Subject: "fay@loanflow.test", Role: gatekeeper.RoleAdmin}, seen)

	// A user signature replayed with an elevated role header.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signed("gil@loanflow.test", gatekeeper.RoleAdmin, SignIdentity(identitySecret, "gil@loanflow.test", gatekeeper.RoleUser)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signed("gil@loanflow.test", gatekeeper.RoleUser, SignIdentity(identitySecret, "gil@loanflow.test", gatekeeper.RoleUser)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/loans", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type manualClock struct{ now atomic.Int64 }

func (c *manualClock) Now() time.Time          { return time.Unix(0, c.now.Load()) }
func (c *manualClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

func TestRateLimitBucketPerClient(t *testing.T) {
	clock := &manualClock{}
	clock.now.Store(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).UnixNano())
	limiter := rate.New(rate.Config{Now: clock.Now})

	var rejected atomic.Int32
	handler := RateLimit(limiter, RateLimitConfig{
		OnReject: func(*http.Request) { rejected.Add(1) },
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(method, path, xff string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.9:52811"
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 30; i++ {
		require.Equal(t, http.StatusNoContent, send(http.MethodPost, "/auth/login", "198.51.100.4, 10.0.0.1").Code, "request %d", i+1)
	}

	rec := send(http.MethodPost, "/auth/login", "198.51.100.4")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	body := decodeError(t, rec)
	assert.Equal(t, "Too many requests. Please try again later.", body.Message)
	assert.Equal(t, "AUTH_429", body.ErrorCode)
	assert.Equal(t, int32(1), rejected.Load())

	// Other clients, unprotected paths and preflights are unaffected.
	assert.Equal(t, http.StatusNoContent, send(http.MethodPost, "/auth/login", "198.51.100.5").Code)
	assert.Equal(t, http.StatusNoContent, send(http.MethodGet, "/auth/profile", "198.51.100.4").Code)
	assert.Equal(t, http.StatusNoContent, send(http.MethodOptions, "/auth/login", "198.51.100.4").Code)

	clock.Advance(2 * time.Second)
	assert.Equal(t, http.StatusNoContent, send(http.MethodPost, "/auth/reset-password", "198.51.100.4").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(http.MethodPost, "/auth/send-otp", "198.51.100.4").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4431"
	assert.Equal(t, "192.0.2.10", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 192.0.2.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " , 192.0.2.1")
	assert.Equal(t, "192.0.2.10", ClientIP(req))
}
