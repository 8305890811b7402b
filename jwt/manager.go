package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the signature scheme used for issued tokens.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 keypair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC-SHA256 secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const minHMACSecretBytes = 32

var (
	// ErrMalformed is returned when a token cannot be decoded at all.
	ErrMalformed = errors.New("malformed token")
	// ErrInvalid is returned for bad signatures, expired tokens and claim mismatches.
	ErrInvalid = errors.New("invalid token")
	// ErrWrongKind is returned when a refresh token is presented as an access token or the reverse.
	ErrWrongKind = errors.New("token kind mismatch")
	// ErrWrongScope is returned when a refresh token is presented outside its renewal path.
	ErrWrongScope = errors.New("token presented outside its scope")
)

// Config holds the signing material and validation rules of a Manager.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HS256 secret, or the Ed25519 private key (raw or PEM).
	PrivateKey []byte
	// PublicKey is the Ed25519 public key (raw or PEM). Unused for HS256.
	PublicKey []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
	// MaxFutureIAT rejects tokens claiming to be issued too far ahead of the local clock.
	MaxFutureIAT time.Duration
	// RefreshScope is embedded in refresh tokens as the only path they may be presented at.
	RefreshScope string
	KeyID        string
	VerifyKeys   map[string][]byte
	// Now overrides the clock. Tests use it to move across expiry boundaries.
	Now func() time.Time
}

// Claims is the wire payload of every token the Manager signs.
type Claims struct {
	Role  string `json:"role"`
	Kind  Kind   `json:"typ"`
	Scope string `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

// Decoded carries claims read without verifying the signature. Never
// authorize on it; it exists so callers can tell "malformed" apart from
// "expired" or "forged".
type Decoded struct {
	Subject string
	Role    string
	Kind    Kind
}

// Verified is an identity whose token passed signature, expiry and kind
// checks. Only Manager.Verify and Manager.VerifyRefresh construct one.
type Verified struct {
	subject   string
	role      string
	kind      Kind
	expiresAt time.Time
}

func (v Verified) Subject() string      { return v.subject }
func (v Verified) Role() string         { return v.role }
func (v Verified) Kind() Kind           { return v.kind }
func (v Verified) ExpiresAt() time.Time { return v.expiresAt }

// Manager issues and checks tokens. It holds no mutable state and is safe
// for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if strings.TrimSpace(cfg.RefreshScope) == "" {
		return nil, errors.New("refresh scope is required")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACSecretBytes {
			return nil, fmt.Errorf("hs256 requires a secret of at least %d bytes", minHMACSecretBytes)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// AccessTTL reports the lifetime of access tokens.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL reports the lifetime of refresh tokens.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// RefreshScope reports the path refresh tokens are bound to.
func (j *Manager) RefreshScope() string { return j.config.RefreshScope }

// IssueAccess mints a short-lived token accepted by every protected route.
func (j *Manager) IssueAccess(subject, role string) (string, error) {
	return j.issue(subject, role, KindAccess, j.config.AccessTTL, "")
}

// IssueRefresh mints a long-lived token that can only be exchanged for a
// new access token at the refresh path.
func (j *Manager) IssueRefresh(subject, role string) (string, error) {
	return j.issue(subject, role, KindRefresh, j.config.RefreshTTL, j.config.RefreshScope)
}

func (j *Manager) issue(subject, role string, kind Kind, ttl time.Duration, scope string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}

	now := j.now()
	claims := Claims{
		Role:  role,
		Kind:  kind,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// Validate reports whether token carries a good signature and has not
// expired. Any failure, including garbage input, yields false.
func (j *Manager) Validate(token string) bool {
	_, err := j.parse(token)
	return err == nil
}

// Decode reads claims without checking the signature or expiry.
func (j *Manager) Decode(token string) (Decoded, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.Subject == "" {
		return Decoded{}, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	return Decoded{Subject: claims.Subject, Role: claims.Role, Kind: claims.Kind}, nil
}

// ExtractSubject returns the unverified subject claim.
func (j *Manager) ExtractSubject(token string) (string, error) {
	d, err := j.Decode(token)
	if err != nil {
		return "", err
	}
	return d.Subject, nil
}

// ExtractRole returns the unverified role claim.
func (j *Manager) ExtractRole(token string) (string, error) {
	d, err := j.Decode(token)
	if err != nil {
		return "", err
	}
	return d.Role, nil
}

// Verify checks signature, expiry and kind, then returns the identity.
func (j *Manager) Verify(token string, kind Kind) (Verified, error) {
	claims, err := j.parse(token)
	if err != nil {
		return Verified{}, err
	}
	if claims.Kind != kind {
		return Verified{}, ErrWrongKind
	}
	return verifiedFrom(claims), nil
}

// VerifyRefresh verifies a refresh token and additionally requires that it
// was presented at the path it was scoped to.
func (j *Manager) VerifyRefresh(token, presentedPath string) (Verified, error) {
	claims, err := j.parse(token)
	if err != nil {
		return Verified{}, err
	}
	if claims.Kind != KindRefresh {
		return Verified{}, ErrWrongKind
	}
	if claims.Scope == "" || claims.Scope != presentedPath {
		return Verified{}, ErrWrongScope
	}
	return verifiedFrom(claims), nil
}

func verifiedFrom(c *Claims) Verified {
	v := Verified{subject: c.Subject, role: c.Role, kind: c.Kind}
	if c.ExpiresAt != nil {
		v.expiresAt = c.ExpiresAt.Time
	}
	return v
}

func (j *Manager) parse(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, j.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalid
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(j.now().Add(j.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
		}
	}
	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	return j.getVerifyKey()
}

func (j *Manager) getMethod() jwt.SigningMethod {
	if j.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (j *Manager) getSignKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	if len(j.config.PrivateKey) == 0 {
		return nil, errors.New("verify-only manager cannot issue tokens")
	}
	return parseEdPrivateKey(j.config.PrivateKey)
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return j.config.PrivateKey, nil
	}
	return parseEdPublicKey(j.config.PublicKey)
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	if j.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
