package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/simple-assets/pkg/simpleasset"
)

// DevUserID is the identity returned by AllowAll
const DevUserID = "dev_user"

// AllowAll accepts any credential, including an empty one, as a user holding
// every scope. Only for local development.
type AllowAll struct{}

// NewAllowAll creates the development provider
func NewAllowAll() *AllowAll {
	return &AllowAll{}
}

func (a *AllowAll) Authenticate(ctx context.Context, credential string) (*simpleasset.User, error) {
	return &simpleasset.User{
		ID:     DevUserID,
		Scopes: []simpleasset.Scope{simpleasset.ScopeAdmin, simpleasset.ScopeWrite, simpleasset.ScopeRead},
	}, nil
}

// TokenAuthenticator accepts tokens minted by a TokenService
type TokenAuthenticator struct {
	tokens simpleasset.TokenIssuer
}

// NewTokenAuthenticator wraps tokens as an Authenticator
func NewTokenAuthenticator(tokens simpleasset.TokenIssuer) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: tokens}
}

func (t *TokenAuthenticator) Authenticate(ctx context.Context, credential string) (*simpleasset.User, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", simpleasset.ErrUnauthorized)
	}
	user, err := t.tokens.Validate(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", simpleasset.ErrUnauthorized, err)
	}
	return user, nil
}

// APIKeys authenticates static keys. Only SHA-256 digests of the keys are
// kept in memory.
type APIKeys struct {
	users map[string]*simpleasset.User
}

// NewAPIKeys creates a provider from a digest → user map. Digests are
// lowercase hex SHA-256 of the raw key, see HashAPIKey.
func NewAPIKeys(digests map[string]*simpleasset.User) *APIKeys {
	users := make(map[string]*simpleasset.User, len(digests))
	for digest, user := range digests {
		users[strings.ToLower(digest)] = user
	}
	return &APIKeys{users: users}
}

// HashAPIKey returns the digest under which key is registered
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (k *APIKeys) Authenticate(ctx context.Context, credential string) (*simpleasset.User, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", simpleasset.ErrUnauthorized)
	}
	user, ok := k.users[HashAPIKey(credential)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown api key", simpleasset.ErrUnauthorized)
	}
	return &simpleasset.User{ID: user.ID, Scopes: append([]simpleasset.Scope(nil), user.Scopes...)}, nil
}

// ParseAPIKeys reads entries of the form
//
//	<sha256-hex>=<user>:<scope>[+<scope>...]
//
// separated by commas, e.g. "9f86...=ci:write,2c26...=ops:admin".
func ParseAPIKeys(keys string) (*APIKeys, error) {
	digests := make(map[string]*simpleasset.User)
	for _, entry := range strings.Split(keys, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		digest, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("api key entry %q: missing '='", entry)
		}
		if len(digest) != sha256.Size*2 {
			return nil, fmt.Errorf("api key entry for %q: digest must be %d hex characters", rest, sha256.Size*2)
		}
		if _, err := hex.DecodeString(digest); err != nil {
			return nil, fmt.Errorf("api key entry for %q: %w", rest, err)
		}
		id, scopeList, ok := strings.Cut(rest, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("api key entry %q: expected <user>:<scopes>", rest)
		}
		user := &simpleasset.User{ID: id}
		for _, s := range strings.Split(scopeList, "+") {
			scope, err := simpleasset.ParseScope(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("api key entry for %q: %w", id, err)
			}
			user.Scopes = append(user.Scopes, scope)
		}
		digests[digest] = user
	}
	if len(digests) == 0 {
		return nil, errors.New("no api keys configured")
	}
	return NewAPIKeys(digests), nil
}

type chain []simpleasset.Authenticator

// Chain tries providers in order and returns the first user accepted.
//
// When every provider fails, the first error is reported, except that a
// malformed-token error yields to a later provider's error: the credential
// was simply not a token.
func Chain(providers ...simpleasset.Authenticator) simpleasset.Authenticator {
	return chain(providers)
}

func (c chain) Authenticate(ctx context.Context, credential string) (*simpleasset.User, error) {
	var first error
	for _, p := range c {
		user, err := p.Authenticate(ctx, credential)
		if err == nil {
			return user, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if first == nil || errors.Is(first, simpleasset.ErrTokenMalformed) {
			first = err
		}
	}
	if first == nil {
		first = fmt.Errorf("%w: no identity provider configured", simpleasset.ErrUnauthorized)
	}
	return nil, first
}
