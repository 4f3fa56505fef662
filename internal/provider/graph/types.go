// Package graph implements a Provider that sends raw messages via the
// Microsoft Graph API.
package graph

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
