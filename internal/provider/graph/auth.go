package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// tokens are treated as expired this long before the server says so
	tokenExpiryBuffer = 5 * time.Minute
)

// tokenCache holds one client-credentials access token and renews it on
// demand. Safe for concurrent use.
type tokenCache struct {
	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time

	tokenURL   string
	form       url.Values
	httpClient *http.Client
	now        func() time.Time
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		tokenURL: tokenURL,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns the cached token, fetching a new one when none is held or
// the held one is within tokenExpiryBuffer of expiring.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.accessToken != "" && tc.now().Before(tc.expiresAt) {
		return tc.accessToken, nil
	}
	return tc.fetch(ctx)
}

// ForceRefresh drops the held token and fetches a new one.
func (tc *tokenCache) ForceRefresh(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.accessToken = ""
	tc.expiresAt = time.Time{}
	return tc.fetch(ctx)
}

// fetch requires tc.mu.
func (tc *tokenCache) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.tokenURL, strings.NewReader(tc.form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime > tokenExpiryBuffer {
		lifetime -= tokenExpiryBuffer
	} else {
		lifetime /= 2
	}

	tc.accessToken = tr.AccessToken
	tc.expiresAt = tc.now().Add(lifetime)
	return tc.accessToken, nil
}
