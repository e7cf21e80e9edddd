// Package userinfo authenticates OAuth access tokens by asking the issuing
// provider's userinfo endpoint who they belong to.
package userinfo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tendant/simple-assets/pkg/simpleasset"
)

const (
	// DefaultURL is GitHub's authenticated-user endpoint
	DefaultURL = "https://api.github.com/user"

	// DefaultTTL is how long a resolved identity is cached
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries bounds the identity cache
	DefaultMaxEntries = 10000
)

// Config options for the userinfo provider
type Config struct {
	URL           string              // Userinfo endpoint, defaults to GitHub
	SubjectField  string              // JSON field naming the user, defaults to "login"
	Scopes        []simpleasset.Scope // Scopes granted to every recognised user, defaults to read+write
	MembershipURL string              // Optional check; "{login}" is replaced by the user id. 2xx means member.
	TTL           time.Duration       // Cache lifetime, defaults to 5 minutes
	MaxEntries    int                 // Cache size bound, defaults to 10000
	HTTPClient    *http.Client        // Optional base client
	Logger        *slog.Logger
}

type cachedUser struct {
	user      simpleasset.User
	expiresAt time.Time
}

// Provider resolves bearer tokens through a userinfo endpoint. Results are
// cached by the SHA-256 of the token, never the token itself.
type Provider struct {
	config Config
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedUser
}

// New creates a userinfo provider
func New(config Config) *Provider {
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.SubjectField == "" {
		config.SubjectField = "login"
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []simpleasset.Scope{simpleasset.ScopeRead, simpleasset.ScopeWrite}
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Provider{
		config: config,
		now:    time.Now,
		cache:  make(map[string]cachedUser),
	}
}

func (p *Provider) Authenticate(ctx context.Context, credential string) (*simpleasset.User, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", simpleasset.ErrUnauthorized)
	}
	key := hashToken(credential)
	if user, ok := p.cached(key); ok {
		return user, nil
	}

	client := p.client(ctx, credential)
	id, err := p.fetchSubject(ctx, client)
	if err != nil {
		return nil, err
	}
	if p.config.MembershipURL != "" {
		if err := p.checkMembership(ctx, client, id); err != nil {
			return nil, err
		}
	}

	user := simpleasset.User{ID: id, Scopes: append([]simpleasset.Scope(nil), p.config.Scopes...)}
	p.store(key, user)

	p.config.Logger.DebugContext(ctx, "userinfo identity resolved", "user", id)
	return &user, nil
}

func (p *Provider) cached(key string) (*simpleasset.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.cache[key]
	if !ok {
		return nil, false
	}
	if !p.now().Before(entry.expiresAt) {
		delete(p.cache, key)
		return nil, false
	}
	user := entry.user
	user.Scopes = append([]simpleasset.Scope(nil), entry.user.Scopes...)
	return &user, true
}

// store caches user under key. A full cache first drops expired entries,
// then the entry closest to expiry.
func (p *Provider) store(key string, user simpleasset.User) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if _, ok := p.cache[key]; !ok && len(p.cache) >= p.config.MaxEntries {
		for k, entry := range p.cache {
			if !now.Before(entry.expiresAt) {
				delete(p.cache, k)
			}
		}
		if len(p.cache) >= p.config.MaxEntries {
			p.evictOldest()
		}
	}
	p.cache[key] = cachedUser{user: user, expiresAt: now.Add(p.config.TTL)}
}

func (p *Provider) evictOldest() {
	var oldest string
	var oldestAt time.Time
	for k, entry := range p.cache {
		if oldest == "" || entry.expiresAt.Before(oldestAt) {
			oldest, oldestAt = k, entry.expiresAt
		}
	}
	delete(p.cache, oldest)
}

// client returns an HTTP client that sends credential as a bearer token
func (p *Provider) client(ctx context.Context, credential string) *http.Client {
	if p.config.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.config.HTTPClient)
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: credential,
		TokenType:   "Bearer",
	}))
}

func (p *Provider) fetchSubject(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", simpleasset.NewStorageError("userinfo", "fetch", p.config.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("%w: token rejected by identity provider", simpleasset.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", simpleasset.NewStorageError("userinfo", "fetch", p.config.URL,
			fmt.Errorf("identity provider returned %s", resp.Status))
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", simpleasset.NewStorageError("userinfo", "decode", p.config.URL, err)
	}
	id, ok := body[p.config.SubjectField].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: userinfo response has no %q", simpleasset.ErrUnauthorized, p.config.SubjectField)
	}
	return id, nil
}

func (p *Provider) checkMembership(ctx context.Context, client *http.Client, id string) error {
	url := strings.ReplaceAll(p.config.MembershipURL, "{login}", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return simpleasset.NewStorageError("userinfo", "membership", url, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: user %s is not a member", simpleasset.ErrForbidden, id)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Compile-time interface check.
var _ simpleasset.Authenticator = (*Provider)(nil)

