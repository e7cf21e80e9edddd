// Package auth provides identity providers and the read-token service.
//
// Providers turn a bearer credential into a simpleasset.User:
//
//   - AllowAll grants every scope to a fixed development user
//   - APIKeys maps SHA-256 digests of static keys to users
//   - TokenAuthenticator accepts tokens minted by a TokenService
//   - Chain tries providers in order
//
// TokenService mints HS256 JWTs that carry only the read scope. Tokens are
// self-contained; validation needs nothing but the signing secret.
//
// Example:
//
//	tokens := auth.NewTokenService(
//	    auth.WithSecret(os.Getenv("JWT_SECRET")),
//	    auth.WithDefaultDuration(30*24*time.Hour),
//	)
//	authn := auth.Chain(auth.NewTokenAuthenticator(tokens), keys)
package auth
