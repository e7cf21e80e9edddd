package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/lestrrat-go/jwx/jwt"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

const (
	// DefaultSecret is used when no secret is configured. Never use it in production.
	DefaultSecret = "TOP_SECRET"

	// DefaultTokenDuration is the lifetime of a token minted without one
	DefaultTokenDuration = 365 * 24 * time.Hour

	signingAlgorithm = "HS256"
	scopesClaim      = "scopes"

	// expiresAtClaim carries the exact expiry; exp only has second resolution
	expiresAtClaim = "expires_at"
)

// TokenService mints and validates signed read tokens. Instances are
// independent; a process may run several with different secrets.
type TokenService struct {
	secret          []byte
	defaultDuration time.Duration
	now             func() time.Time
	logger          *slog.Logger
	jwt             *jwtauth.JWTAuth
}

// Compile-time interface check.
var _ simpleasset.TokenIssuer = (*TokenService)(nil)

// NewTokenService creates a TokenService with the given options
func NewTokenService(opts ...Option) *TokenService {
	s := &TokenService{
		defaultDuration: DefaultTokenDuration,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.secret) == 0 {
		s.secret = []byte(DefaultSecret)
	}
	if string(s.secret) == DefaultSecret {
		s.logger.Warn("token service is using the built-in default secret; set JWT_SECRET")
	}
	s.jwt = jwtauth.New(signingAlgorithm, s.secret, nil)
	return s
}

// JWTAuth exposes the underlying signer, e.g. for jwtauth middleware
func (s *TokenService) JWTAuth() *jwtauth.JWTAuth {
	return s.jwt
}

// Mint signs a read token for req.Subject. The caller needs write (admin
// implies write). Requesting any scope other than read is forbidden.
func (s *TokenService) Mint(ctx context.Context, caller *simpleasset.User, req simpleasset.MintRequest) (*simpleasset.Token, error) {
	if err := simpleasset.Authorize(caller, simpleasset.ScopeWrite); err != nil {
		return nil, err
	}
	for _, scope := range req.Scopes {
		if scope != simpleasset.ScopeRead {
			return nil, fmt.Errorf("%w: cannot mint %q tokens", simpleasset.ErrForbidden, scope)
		}
	}

	subject := req.Subject
	if subject == "" {
		subject = caller.ID
	}
	duration := req.Duration
	if duration <= 0 {
		duration = s.defaultDuration
	}

	now := s.now()
	expiresAt := now.Add(duration)

	claims := map[string]interface{}{
		jwt.SubjectKey: subject,
		scopesClaim:    []string{string(simpleasset.ScopeRead)},
		expiresAtClaim: expiresAt.UTC().Format(time.RFC3339Nano),
	}
	jwtauth.SetIssuedAt(claims, now)
	jwtauth.SetExpiry(claims, ceilSecond(expiresAt))

	_, value, err := s.jwt.Encode(claims)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	s.logger.InfoContext(ctx, "token minted", "subject", subject, "minted_by", caller.ID, "expires_at", expiresAt)
	return &simpleasset.Token{
		Value:     value,
		Subject:   subject,
		Scopes:    []simpleasset.Scope{simpleasset.ScopeRead},
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks a token and returns the read-only user it identifies.
//
// Expiry is checked before the signature, so an expired token reports
// ErrTokenExpired whether or not it was signed with this secret.
func (s *TokenService) Validate(ctx context.Context, value string) (*simpleasset.User, error) {
	token, err := jwt.ParseString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simpleasset.ErrTokenMalformed, err)
	}
	if token.Subject() == "" {
		return nil, fmt.Errorf("%w: missing subject", simpleasset.ErrTokenMalformed)
	}
	expiresAt, err := expiry(token)
	if err != nil {
		return nil, err
	}

	if !s.now().Before(expiresAt) {
		return nil, simpleasset.ErrTokenExpired
	}

	if _, err := s.jwt.Decode(value); err != nil {
		return nil, simpleasset.ErrTokenBadSignature
	}

	scopes, err := readScopes(token)
	if err != nil {
		return nil, err
	}
	return &simpleasset.User{ID: token.Subject(), Scopes: scopes}, nil
}

// expiry returns the exact expiry, falling back to exp for tokens without one
func expiry(token jwt.Token) (time.Time, error) {
	raw, ok := token.Get(expiresAtClaim)
	if !ok {
		exp := token.Expiration()
		if exp.IsZero() {
			return time.Time{}, fmt.Errorf("%w: missing expiry", simpleasset.ErrTokenMalformed)
		}
		return exp, nil
	}
	str, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s claim is not a string", simpleasset.ErrTokenMalformed, expiresAtClaim)
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", simpleasset.ErrTokenMalformed, expiresAtClaim, err)
	}
	return t, nil
}

// readScopes returns the encoded scopes, which must be exactly [read]
func readScopes(token jwt.Token) ([]simpleasset.Scope, error) {
	raw, ok := token.Get(scopesClaim)
	if !ok {
		return nil, fmt.Errorf("%w: missing scopes claim", simpleasset.ErrTokenMalformed)
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: scopes claim is not a non-empty list", simpleasset.ErrTokenMalformed)
	}
	scopes := make([]simpleasset.Scope, 0, len(list))
	for _, v := range list {
		str, _ := v.(string)
		if simpleasset.Scope(str) != simpleasset.ScopeRead {
			return nil, fmt.Errorf("%w: unexpected scope %v", simpleasset.ErrTokenMalformed, v)
		}
		scopes = append(scopes, simpleasset.ScopeRead)
	}
	return scopes, nil
}

// ceilSecond rounds t up to a whole second, the resolution of the exp claim
func ceilSecond(t time.Time) time.Time {
	if t.Equal(t.Truncate(time.Second)) {
		return t
	}
	return t.Truncate(time.Second).Add(time.Second)
}
