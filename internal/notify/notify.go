// Package notify defines the operator notification channel.
package notify

import "context"

// Publisher delivers a plain-text notice to whoever watches the forwarder.
type Publisher interface {
	// Publish sends one notice and returns the channel's message identifier.
	Publish(ctx context.Context, subject, body string) (string, error)

	// Name returns the human-readable name of this publisher.
	Name() string
}
