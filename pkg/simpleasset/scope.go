package simpleasset

import (
	"fmt"
	"time"
)

// Scope is a permission carried by a User
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// implied lists the scopes each scope grants, itself included.
var implied = map[Scope][]Scope{
	ScopeAdmin: {ScopeAdmin, ScopeWrite, ScopeRead},
	ScopeWrite: {ScopeWrite, ScopeRead},
	ScopeRead:  {ScopeRead},
}

// ParseScope converts a string to a known Scope
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown scope %q", s)
	}
}

// User is an authenticated identity. It is never persisted.
type User struct {
	ID     string  `json:"id"`
	Scopes []Scope `json:"scopes"`
}

// HasScope reports whether the user holds required directly or through an
// implying scope.
func (u *User) HasScope(required Scope) bool {
	if u == nil {
		return false
	}
	for _, s := range u.Scopes {
		for _, granted := range implied[s] {
			if granted == required {
				return true
			}
		}
	}
	return false
}

// Authorize returns ErrForbidden unless user holds required. A nil user is
// unauthenticated and yields ErrUnauthorized.
func Authorize(user *User, required Scope) error {
	if user == nil {
		return ErrUnauthorized
	}
	if !user.HasScope(required) {
		return fmt.Errorf("%w: %q scope required", ErrForbidden, required)
	}
	return nil
}

// Token is a signed, self-contained credential
type Token struct {
	Value     string    `json:"token"`
	Subject   string    `json:"subject"`
	Scopes    []Scope   `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MintRequest contains parameters for minting a token
type MintRequest struct {
	Subject  string
	Duration time.Duration
	// Scopes may only name read; anything else is rejected.
	Scopes []Scope
}
