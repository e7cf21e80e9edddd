package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

func TestAllowAll(t *testing.T) {
	user, err := NewAllowAll().Authenticate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DevUserID, user.ID)
	for _, s := range []simpleasset.Scope{simpleasset.ScopeRead, simpleasset.ScopeWrite, simpleasset.ScopeAdmin} {
		assert.True(t, user.HasScope(s))
	}
}

func TestAPIKeys(t *testing.T) {
	keys := NewAPIKeys(map[string]*simpleasset.User{
		HashAPIKey("ci-key"): {ID: "ci", Scopes: []simpleasset.Scope{simpleasset.ScopeWrite}},
	})
	ctx := context.Background()

	user, err := keys.Authenticate(ctx, "ci-key")
	require.NoError(t, err)
	assert.Equal(t, "ci", user.ID)
	assert.True(t, user.HasScope(simpleasset.ScopeRead))

	_, err = keys.Authenticate(ctx, "wrong-key")
	assert.ErrorIs(t, err, simpleasset.ErrUnauthorized)

	_, err = keys.Authenticate(ctx, "")
	assert.ErrorIs(t, err, simpleasset.ErrUnauthorized)
}

func TestParseAPIKeys(t *testing.T) {
	ciDigest := HashAPIKey("ci-key")
	opsDigest := HashAPIKey("ops-key")

	tests := []struct {
		name        string
		input       string
		expectError bool
	}{
		{name: "single entry", input: ciDigest + "=ci:write"},
		{name: "several entries", input: ciDigest + "=ci:write, " + opsDigest + "=ops:admin+read"},
		{name: "empty", input: " , ", expectError: true},
		{name: "missing equals", input: ciDigest, expectError: true},
		{name: "short digest", input: "abc=ci:write", expectError: true},
		{name: "unknown scope", input: ciDigest + "=ci:root", expectError: true},
		{name: "missing scopes", input: ciDigest + "=ci", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := ParseAPIKeys(tt.input)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			user, err := keys.Authenticate(context.Background(), "ci-key")
			require.NoError(t, err)
			assert.Equal(t, "ci", user.ID)
		})
	}
}

func TestTokenAuthenticator(t *testing.T) {
	svc, _ := newTestService(t, "secret-a")
	authn := NewTokenAuthenticator(svc)
	ctx := context.Background()

	token, err := svc.Mint(ctx, writer, simpleasset.MintRequest{Subject: "player", Duration: time.Hour})
	require.NoError(t, err)

	user, err := authn.Authenticate(ctx, token.Value)
	require.NoError(t, err)
	assert.Equal(t, "player", user.ID)

	_, err = authn.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, simpleasset.ErrUnauthorized)
	assert.ErrorIs(t, err, simpleasset.ErrTokenMalformed)
}

type stubProvider struct {
	user  *simpleasset.User
	err   error
	calls int
}

func (s *stubProvider) Authenticate(ctx context.Context, credential string) (*simpleasset.User, error) {
	s.calls++
	return s.user, s.err
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("first success wins", func(t *testing.T) {
		a := &stubProvider{user: &simpleasset.User{ID: "a"}}
		b := &stubProvider{user: &simpleasset.User{ID: "b"}}
		user, err := Chain(a, b).Authenticate(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, "a", user.ID)
		assert.Equal(t, 0, b.calls)
	})

	t.Run("falls through to later provider", func(t *testing.T) {
		a := &stubProvider{err: fmt.Errorf("%w: %w", simpleasset.ErrUnauthorized, simpleasset.ErrTokenMalformed)}
		b := &stubProvider{user: &simpleasset.User{ID: "b"}}
		user, err := Chain(a, b).Authenticate(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, "b", user.ID)
	})

	t.Run("expired token error is kept", func(t *testing.T) {
		a := &stubProvider{err: fmt.Errorf("%w: %w", simpleasset.ErrUnauthorized, simpleasset.ErrTokenExpired)}
		b := &stubProvider{err: fmt.Errorf("%w: unknown api key", simpleasset.ErrUnauthorized)}
		_, err := Chain(a, b).Authenticate(ctx, "x")
		assert.ErrorIs(t, err, simpleasset.ErrTokenExpired)
	})

	t.Run("malformed token error yields", func(t *testing.T) {
		a := &stubProvider{err: fmt.Errorf("%w: %w", simpleasset.ErrUnauthorized, simpleasset.ErrTokenMalformed)}
		b := &stubProvider{err: fmt.Errorf("%w: unknown api key", simpleasset.ErrUnauthorized)}
		_, err := Chain(a, b).Authenticate(ctx, "x")
		assert.ErrorIs(t, err, simpleasset.ErrUnauthorized)
		assert.NotErrorIs(t, err, simpleasset.ErrTokenMalformed)
	})

	t.Run("empty chain", func(t *testing.T) {
		_, err := Chain().Authenticate(ctx, "x")
		assert.ErrorIs(t, err, simpleasset.ErrUnauthorized)
	})
}
