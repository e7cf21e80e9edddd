package auth

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring a TokenService
type Option func(*TokenService)

// WithSecret sets the HMAC key used to sign and verify tokens.
// Every token minted with a previous secret stops validating when it changes.
func WithSecret(secret string) Option {
	return func(s *TokenService) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithDefaultDuration sets the lifetime used when a mint request has none.
// Default is one year if not specified.
func WithDefaultDuration(d time.Duration) Option {
	return func(s *TokenService) {
		if d > 0 {
			s.defaultDuration = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *TokenService) {
		if logger != nil {
			s.logger = logger
		}
	}
}
