package stdout

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/shineum/ses-forwarder/internal/notify"
)

func TestPublish_Logs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := New(slog.New(slog.NewJSONHandler(&buf, nil)))

	id, err := p.Publish(context.Background(), "Failed Message Delivery: abc123", "details")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("level: got %v, want WARN", entry["level"])
	}
	if entry["id"] != id {
		t.Errorf("id: got %v, want %q", entry["id"], id)
	}
	if entry["subject"] != "Failed Message Delivery: abc123" {
		t.Errorf("subject: got %v", entry["subject"])
	}
	if entry["body"] != "details" {
		t.Errorf("body: got %v", entry["body"])
	}
}

func TestNew_DefaultLogger(t *testing.T) {
	t.Parallel()
	if New(nil).logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestPublisherInterface(t *testing.T) {
	t.Parallel()
	var _ notify.Publisher = (*Publisher)(nil)
}
