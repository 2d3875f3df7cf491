// Package auth verifies the bearer tokens issued by the platform's login
// endpoint. The same verifier guards the WebSocket handshake and the REST
// endpoints so both surfaces accept exactly the same credentials.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie the web client stores its session token in.
const CookieName = "jwt"

// QueryParam is the query parameter accepted on WebSocket upgrades, since
// browsers cannot attach an Authorization header to them.
const QueryParam = "token"

var (
	// ErrMissingToken is returned when a request carries no credential.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken is returned for any signature, expiry or claim failure.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Identity is the authenticated principal extracted from a token.
type Identity struct {
	UserID string
	Role   string
}

// Claims is the token payload. The login endpoint signs {id, role} with a
// 24h expiry.
type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier turns a raw token into an Identity.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// Verifier checks HS256 signatures against a shared secret and requires an
// unexpired exp claim.
type Verifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	return &Verifier{
		secret: []byte(secret),
		leeway: 5 * time.Second,
		now:    time.Now,
	}, nil
}

// Verify parses and validates token. Every failure is reported as
// ErrInvalidToken wrapping the underlying cause.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}

	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}

// Issue signs a token for id that expires after ttl. The platform's login
// endpoint does this in production; the hub uses it for tooling and tests.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", errors.New("auth: cannot issue token without user id")
	}
	now := v.now()
	claims := Claims{
		UserID: id.UserID,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest returns the credential carried by r, checking the
// Authorization bearer header, then the session cookie, then the token
// query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(QueryParam)
}
