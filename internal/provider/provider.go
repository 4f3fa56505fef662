// Package provider defines the interface for outbound delivery backends.
package provider

import (
	"context"
	"fmt"

	"github.com/shineum/ses-forwarder/internal/email"
)

// Provider is the interface that delivery backends must implement.
// A provider makes a single delivery attempt per call; retry policy belongs
// to the caller's host.
type Provider interface {
	// Send transmits the raw message and returns the identifier the backend
	// assigned to it.
	Send(ctx context.Context, msg *email.Outbound) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// SendError is a structured delivery failure. Code and Message carry the
// backend's own error classification when it reports one.
type SendError struct {
	Code    string
	Message string
	Err     error
}

func (e *SendError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("send failed: %s", e.Message)
	}
	return fmt.Sprintf("send failed: <%s> %s", e.Code, e.Message)
}

func (e *SendError) Unwrap() error { return e.Err }
