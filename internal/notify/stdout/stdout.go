// Package stdout implements notify.Publisher by logging notices.
package stdout

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Publisher writes each notice to a structured logger.
type Publisher struct {
	logger *slog.Logger
}

// New creates a Publisher on logger, or on slog.Default when logger is nil.
func New(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger}
}

// Publish logs the notice at warn level and returns a random identifier.
func (p *Publisher) Publish(ctx context.Context, subject, body string) (string, error) {
	id := uuid.NewString()
	p.logger.WarnContext(ctx, "notification", "id", id, "subject", subject, "body", body)
	return id, nil
}

// Name returns the publisher name.
func (p *Publisher) Name() string {
	return "stdout"
}
