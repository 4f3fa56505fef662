// Package report renders and publishes incident notices for messages that
// could not be forwarded.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shineum/ses-forwarder/internal/inbound"
	"github.com/shineum/ses-forwarder/internal/notify"
	"github.com/shineum/ses-forwarder/internal/store"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FailureRecord describes one message that failed to forward.
type FailureRecord struct {
	MessageID    string
	Notification *inbound.Notification

	// ErrorDetail is the failure text, when the reporter of the failure
	// knows it.
	ErrorDetail string

	// RequestID identifies the failed invocation for dead-letter entries.
	RequestID string

	// ErrorKey is the exact key of the stored error copy, when known.
	// Otherwise the notice shows the key pattern for the receipt day.
	ErrorKey string
}

// Reporter publishes failure notices.
type Reporter struct {
	layout    store.Layout
	publisher notify.Publisher
}

// New creates a Reporter that refers to objects laid out by layout.
func New(layout store.Layout, publisher notify.Publisher) *Reporter {
	return &Reporter{layout: layout, publisher: publisher}
}

// Report publishes the notice for rec and returns the publisher's identifier.
// Publish errors are returned unchanged in meaning; there is no retry.
func (r *Reporter) Report(ctx context.Context, rec FailureRecord) (string, error) {
	subject, body, err := r.Render(rec)
	if err != nil {
		return "", err
	}

	id, err := r.publisher.Publish(ctx, subject, body)
	if err != nil {
		return "", fmt.Errorf("failed to publish failure notice for %s: %w", rec.MessageID, err)
	}

	slog.Info("sent failure notice",
		"message_id", rec.MessageID,
		"request_id", rec.RequestID,
		"publisher", r.publisher.Name(),
		"notice_id", id,
	)
	return id, nil
}

// Render returns the notice subject and plain-text body for rec.
func (r *Reporter) Render(rec FailureRecord) (string, string, error) {
	n := rec.Notification
	if n == nil {
		return "", "", fmt.Errorf("failure record %s has no notification", rec.MessageID)
	}
	id := rec.MessageID
	if id == "" {
		id = n.Mail.MessageID
	}
	ts := n.Mail.Timestamp.UTC()

	wrapped, err := json.Marshal(inbound.WrapRecord(n))
	if err != nil {
		return "", "", fmt.Errorf("failed to encode failed record: %w", err)
	}

	errorRef := r.layout.URL(r.layout.ErrorPattern(ts, id)) + " (timestamp may be different)"
	if rec.ErrorKey != "" {
		errorRef = r.layout.URL(rec.ErrorKey)
	}

	lines := []string{
		"Hello Admin,",
		"",
		"The application failed to forward a message.",
		"",
		"Here are the message details:",
		"  Message ID: " + id,
		"  Timestamp: " + ts.Format(timestampLayout),
		"  Sender: " + n.Mail.Source,
		"  Destination: " + strings.Join(n.Mail.Destination, ", "),
	}
	if rec.RequestID != "" {
		lines = append(lines, "  Request ID: "+rec.RequestID)
	}
	if rec.ErrorDetail != "" {
		lines = append(lines, "  Error: "+rec.ErrorDetail)
	}
	lines = append(lines,
		"",
		"The original message should be available here:",
		r.layout.URL(r.layout.Message(id)),
		"  Note: the raw message can be viewed in a text viewer, or saved with an '.eml' extension to open it in an email client",
		"",
		"The notification from SES should be available here:",
		r.layout.URL(r.layout.Index(ts, n.Mail.Source, id)),
		"",
		"If the failure occurred during sending, the message that failed to send might be available here:",
		errorRef,
		"",
		"Please investigate this failure.",
		"",
		"Thank you,",
		"SES Forwarder",
		"",
		"Failed Record:",
		string(wrapped),
	)

	return "Failed Message Delivery: " + id, strings.Join(lines, "\n"), nil
}
