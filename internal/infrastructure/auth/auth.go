package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrUnauthorized is returned when a request carries no usable credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves the user behind an event stream request.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// JWTAuthenticator accepts HS256 tokens signed with a shared secret. The
// token subject is the user id. Browsers' EventSource cannot set headers,
// so the token may also arrive as a query parameter.
type JWTAuthenticator struct {
	secret     []byte
	issuer     string
	queryParam string
	clock      clock.Clock
}

// Option configures a JWTAuthenticator.
type Option func(*JWTAuthenticator)

// WithClock overrides the clock used for expiry checks.
func WithClock(clk clock.Clock) Option {
	return func(a *JWTAuthenticator) { a.clock = clk }
}

// WithQueryParam sets the query parameter checked when no Authorization
// header is present. An empty name disables the fallback.
func WithQueryParam(name string) Option {
	return func(a *JWTAuthenticator) { a.queryParam = name }
}

// NewJWTAuthenticator creates an authenticator for tokens issued by issuer.
func NewJWTAuthenticator(secret, issuer string, opts ...Option) *JWTAuthenticator {
	a := &JWTAuthenticator{
		secret:     []byte(secret),
		issuer:     issuer,
		queryParam: "token",
		clock:      clock.WallClock,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ Authenticator = (*JWTAuthenticator)(nil)

func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" && a.queryParam != "" {
		raw = r.URL.Query().Get(a.queryParam)
	}
	if raw == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	return a.Verify(raw)
}

// Verify checks a raw token and returns its subject.
func (a *JWTAuthenticator) Verify(raw string) (string, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, a.secret),
		jwt.WithClock(a.clock),
		jwt.WithValidate(true),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse token: %v", ErrUnauthorized, err)
	}
	if token.Subject() == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return token.Subject(), nil
}

// IssueToken signs a token for userID valid for ttl. Used by the CLI and
// tests; production tokens come from the session service.
func (a *JWTAuthenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	builder := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if a.issuer != "" {
		builder = builder.Issuer(a.issuer)
	}
	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (string, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (string, error) {
	return f(r)
}
