// Package stdout implements a Provider that prints messages instead of
// delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"github.com/shineum/ses-forwarder/internal/email"
	"github.com/shineum/ses-forwarder/internal/parser"
)

// Provider prints a readable summary of each message to its writer.
type Provider struct {
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the envelope and decoded content of msg and returns a random
// identifier. Messages that cannot be decoded are summarised by size only.
func (p *Provider) Send(_ context.Context, msg *email.Outbound) (string, error) {
	id := uuid.NewString()

	var b strings.Builder
	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Message: %s (%s)\n", msg.MessageID, id)
	fmt.Fprintf(&b, "Envelope From: %s\n", msg.From)
	fmt.Fprintf(&b, "Envelope To: %s\n", strings.Join(msg.To, ", "))

	decoded, err := parser.Parse(msg.Raw)
	if err != nil {
		fmt.Fprintf(&b, "Raw: %s (undecodable: %v)\n", formatSize(len(msg.Raw)), err)
	} else {
		writeSummary(&b, decoded)
	}
	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		slog.Warn("failed to write message summary", "message_id", msg.MessageID, "error", err)
	}
	return id, nil
}

func writeSummary(b *strings.Builder, msg *email.Email) {
	fmt.Fprintf(b, "From: %s\n", msg.From)
	fmt.Fprintf(b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" && msg.HtmlBody != "" {
		body = html2text.HTML2Text(msg.HtmlBody)
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			names = append(names, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(b, "Attachments: %s\n", strings.Join(names, ", "))
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
