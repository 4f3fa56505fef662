package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func tokenServer(t *testing.T, calls *atomic.Int32, expiresIn int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+n)),
			ExpiresIn:   expiresIn,
			TokenType:   "Bearer",
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTokenCache_AcquiresToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		want := map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     "test-client-id",
			"client_secret": "test-client-secret",
			"scope":         graphScope,
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Errorf("%s: got %q, want %q", k, got, v)
			}
		}
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "test-access-token", ExpiresIn: 3600})
	}))
	defer server.Close()

	tc := newTokenCache(server.URL, "test-client-id", "test-client-secret", server.Client())

	token, err := tc.Token(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "test-access-token" {
		t.Errorf("token: got %q, want %q", token, "test-access-token")
	}
}

func TestTokenCache_CachesUntilExpiry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := tokenServer(t, &calls, 3600)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())
	tc.now = func() time.Time { return now }

	ctx := context.Background()
	first, _ := tc.Token(ctx)
	second, _ := tc.Token(ctx)
	if first != second || calls.Load() != 1 {
		t.Fatalf("expected one fetch, got %d (%q, %q)", calls.Load(), first, second)
	}

	// inside the expiry buffer
	now = now.Add(56 * time.Minute)
	third, err := tc.Token(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third == first {
		t.Error("expected a renewed token inside the expiry buffer")
	}
	if calls.Load() != 2 {
		t.Errorf("fetches: got %d, want 2", calls.Load())
	}
}

func TestTokenCache_ShortLifetime(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := tokenServer(t, &calls, 60)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())
	tc.now = func() time.Time { return now }

	if _, err := tc.Token(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := now.Add(30 * time.Second); !tc.expiresAt.Equal(want) {
		t.Errorf("expiresAt: got %v, want %v", tc.expiresAt, want)
	}
}

func TestTokenCache_ForceRefresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := tokenServer(t, &calls, 3600)
	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	ctx := context.Background()
	first, _ := tc.Token(ctx)
	refreshed, err := tc.ForceRefresh(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed == first {
		t.Errorf("expected a different token after ForceRefresh, got %q twice", first)
	}
	if calls.Load() != 2 {
		t.Errorf("fetches: got %d, want 2", calls.Load())
	}
}

func TestTokenCache_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"bad status", http.StatusUnauthorized, `{"error":"invalid_client"}`, "token endpoint returned 401"},
		{"bad json", http.StatusOK, `not json`, "failed to parse token response"},
		{"missing token", http.StatusOK, `{"expires_in":3600}`, "missing access_token"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tc := newTokenCache(server.URL, "cid", "csecret", server.Client())
			_, err := tc.Token(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error: got %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestTokenCache_CanceledContext(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := tokenServer(t, &calls, 3600)
	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tc.Token(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestTokenCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := tokenServer(t, &calls, 3600)
	tc := newTokenCache(server.URL, "cid", "csecret", server.Client())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tc.Token(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fetches: got %d, want 1", calls.Load())
	}
}
