// Package oauth maintains a process-global cache of an agent vendor's OAuth
// access token, refreshing it from disk or the OS keychain as it nears
// expiry.
package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	// cacheTTL bounds how often the cache re-reads from disk/keychain.
	cacheTTL = 5 * time.Minute
	// expiryBuffer triggers a refresh this long before actual expiry.
	expiryBuffer = 5 * time.Minute

	keyringService = "Claude Code-credentials"
	refreshURL     = "https://console.anthropic.com/v1/oauth/token"
)

// Tokens is a vendor OAuth token set with optional refresh metadata.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero means "no expiry info, assume valid"
}

func (t Tokens) expiringSoon(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt.Add(-expiryBuffer))
}

// Cache is a mutex-guarded, process-global token cache for one vendor. The
// zero value is ready to use.
type Cache struct {
	mu          sync.Mutex
	tokens      *Tokens
	lastChecked time.Time

	// HomeDir overrides os.UserHomeDir, for tests.
	HomeDir func() (string, error)
	// Now overrides time.Now, for tests.
	Now func() time.Time
	// HTTPClient performs the refresh POST; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Cache) homeDir() (string, error) {
	if c.HomeDir != nil {
		return c.HomeDir()
	}
	return os.UserHomeDir()
}

func (c *Cache) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Invalidate clears the cache, forcing the next Token call to re-read from
// disk/keychain. Call this after observing an authentication failure from
// the agent process.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = nil
	c.lastChecked = time.Time{}
}

// Token returns a currently-valid access token, refreshing it in place if it
// is expired or expiring soon and a refresh token is available. Returns ""
// if no credentials could be found anywhere.
func (c *Cache) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.tokens != nil && now.Sub(c.lastChecked) < cacheTTL {
		if !c.tokens.expiringSoon(now) {
			return c.tokens.AccessToken
		}
	}

	tokens := c.fetch()
	if tokens != nil && tokens.expiringSoon(now) && tokens.RefreshToken != "" {
		if refreshed, err := c.refresh(tokens.RefreshToken); err == nil {
			tokens = refreshed
			c.writeKeychain(*tokens)
		}
	}

	c.tokens = tokens
	c.lastChecked = now
	if tokens == nil {
		return ""
	}
	return tokens.AccessToken
}

// fetch tries, in order: ~/.claude/.credentials.json, ~/.claude.json, and
// the OS keychain.
func (c *Cache) fetch() *Tokens {
	home, err := c.homeDir()
	if err != nil {
		return c.fetchKeychain()
	}
	if t := readCredentialsFile(filepath.Join(home, ".claude", ".credentials.json"), "claudeAiOauth"); t != nil {
		return t
	}
	if t := readCredentialsFile(filepath.Join(home, ".claude.json"), "oauthAccount"); t != nil {
		return t
	}
	return c.fetchKeychain()
}

func readCredentialsFile(path, nestedKey string) *Tokens {
	data, err := os.ReadFile(path) //nolint:gosec // fixed, well-known credential file locations.
	if err != nil || len(data) > 10_000_000 {
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	obj := doc
	if nested, ok := doc[nestedKey]; ok {
		if err := json.Unmarshal(nested, &obj); err != nil {
			return nil
		}
	}
	return tokensFromFields(obj)
}

func tokensFromFields(obj map[string]json.RawMessage) *Tokens {
	var fields struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresAt    *int64 `json:"expiresAt"`
	}
	raw, _ := json.Marshal(obj)
	if err := json.Unmarshal(raw, &fields); err != nil || fields.AccessToken == "" {
		return nil
	}
	t := &Tokens{AccessToken: fields.AccessToken, RefreshToken: fields.RefreshToken}
	if fields.ExpiresAt != nil {
		t.ExpiresAt = time.Unix(*fields.ExpiresAt, 0)
	}
	return t
}

func (c *Cache) fetchKeychain() *Tokens {
	user := os.Getenv("USER")
	if user == "" {
		return nil
	}
	data, err := keyring.Get(keyringService, user)
	if err != nil {
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil
	}
	obj := doc
	if nested, ok := doc["claudeAiOauth"]; ok {
		if err := json.Unmarshal(nested, &obj); err != nil {
			return nil
		}
	}
	return tokensFromFields(obj)
}

func (c *Cache) writeKeychain(t Tokens) {
	user := os.Getenv("USER")
	if user == "" {
		return
	}
	expiresAt := t.ExpiresAt.Unix()
	payload := map[string]any{
		"claudeAiOauth": map[string]any{
			"accessToken":  t.AccessToken,
			"refreshToken": t.RefreshToken,
			"expiresAt":    expiresAt,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = keyring.Delete(keyringService, user)
	_ = keyring.Set(keyringService, user, string(data))
}

// refresh exchanges a refresh token for a new access token.
func (c *Cache) refresh(refreshToken string) (*Tokens, error) {
	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refreshToken}}
	resp, err := c.httpClient().PostForm(refreshURL, form)
	if err != nil {
		return nil, fmt.Errorf("oauth: refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth: refresh: status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("oauth: decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("oauth: refresh response missing access_token")
	}
	newRefresh := body.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	return &Tokens{
		AccessToken:  body.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    c.now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

// IsAuthError reports whether an agent error message indicates the cached
// token is no longer valid and the cache should be invalidated.
func IsAuthError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range []string{"token_expired", "refresh_token_reused", "invalid_grant", "unauthorized", "401"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
