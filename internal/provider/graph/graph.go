package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shineum/ses-forwarder/internal/email"
	"github.com/shineum/ses-forwarder/internal/provider"
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// GraphProvider sends raw MIME messages through the Microsoft Graph sendMail
// endpoint using OAuth2 client credentials. The mailbox named by Sender must
// be allowed to send as the encoded From address.
type GraphProvider struct {
	sendURL    string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		cfg.TenantID,
	)

	client := &http.Client{Timeout: 30 * time.Second}

	return newWithOverrides(cfg, fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", cfg.Sender), tokenURL, client)
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, sendURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sendURL:    sendURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send posts msg.Raw as a base64 MIME body. The Graph request-id response
// header is returned as the outbound identifier. A 401 triggers one token
// refresh and resend; any other failure is returned as *provider.SendError.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Outbound) (string, error) {
	payload := base64.StdEncoding.EncodeToString(msg.Raw)

	id, err := g.doSendRequest(ctx, payload)
	var sendErr *provider.SendError
	if errors.As(err, &sendErr) && sendErr.Code == strconv.Itoa(http.StatusUnauthorized) {
		slog.Info("refreshing Graph API token after 401")
		if _, refreshErr := g.token.ForceRefresh(ctx); refreshErr != nil {
			return "", fmt.Errorf("token refresh failed: %w", refreshErr)
		}
		id, err = g.doSendRequest(ctx, payload)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single HTTP request to the sendMail endpoint.
func (g *GraphProvider) doSendRequest(ctx context.Context, payload string) (string, error) {
	token, err := g.token.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader([]byte(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	// MIME content is sent as base64 text
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &provider.SendError{
			Message: fmt.Sprintf("HTTP request failed: %v", err),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("request-id"), nil
	}

	body, _ := io.ReadAll(resp.Body)
	return "", responseError(resp.StatusCode, body)
}

// responseError converts a failed sendMail response into a SendError. The
// status code is used as Code so that callers can recognise 401.
func responseError(statusCode int, body []byte) *provider.SendError {
	err := &provider.SendError{
		Code:    strconv.Itoa(statusCode),
		Message: string(body),
	}

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		err.Message = graphErrResp.Error.Message
		if graphErrResp.Error.Code != "" {
			err.Message = graphErrResp.Error.Code + ": " + err.Message
		}
	}
	return err
}
