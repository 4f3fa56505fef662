package forward

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shineum/ses-forwarder/internal/address"
	"github.com/shineum/ses-forwarder/internal/email"
	"github.com/shineum/ses-forwarder/internal/gate"
	"github.com/shineum/ses-forwarder/internal/inbound"
	"github.com/shineum/ses-forwarder/internal/provider"
	"github.com/shineum/ses-forwarder/internal/rewrite"
	"github.com/shineum/ses-forwarder/internal/store"
)

// memStore is an in-memory BlobStore that records the order of operations.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	ops     []string
	putErr  map[string]error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "put "+key)
	for prefix, err := range m.putErr {
		if strings.HasPrefix(key, prefix) {
			return err
		}
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "get "+key)
	data, ok := m.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (m *memStore) Name() string { return "mem" }

func (m *memStore) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// mockSender records what it was asked to send.
type mockSender struct {
	err  error
	sent []*email.Outbound
}

func (m *mockSender) Send(_ context.Context, msg *email.Outbound) (string, error) {
	m.sent = append(m.sent, msg)
	if m.err != nil {
		return "", m.err
	}
	return "outbound-1", nil
}

func (m *mockSender) Name() string { return "mock" }

var testLayout = store.Layout{
	Bucket:        "mail-bucket",
	MessagePrefix: "messages/",
	IndexPrefix:   "index/",
	ErrorPrefix:   "errors/",
}

const original = "Received: from mx.example.com\r\n" +
	"From: Jane Doe <jane@example.com>\r\n" +
	"To: user@company.com\r\n" +
	"Cc: boss@company.com\r\n" +
	"Subject: Hello\r\n" +
	"\r\n" +
	"Body text\r\n"

func testNotification(verdict string) *inbound.Notification {
	pass := inbound.Verdict{Status: inbound.StatusPass}
	return &inbound.Notification{
		Mail: inbound.Mail{
			Timestamp:   time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC),
			Source:      "jane@example.com",
			MessageID:   "abc123",
			Destination: []string{"user@company.com"},
		},
		Receipt: inbound.Receipt{
			Recipients:   []string{"user@company.com"},
			SpamVerdict:  inbound.Verdict{Status: verdict},
			VirusVerdict: pass,
			SPFVerdict:   pass,
			DKIMVerdict:  pass,
			DMARCVerdict: pass,
		},
	}
}

func newTestOrchestrator(st *memStore, sender provider.Provider, force bool) *Orchestrator {
	codec := address.NewCodec("fwd.example")
	o := New(Config{
		Layout:       testLayout,
		Codec:        codec,
		DestDomain:   "relay.example",
		ForceFailure: force,
	}, st, rewrite.New(codec), sender)
	o.now = func() time.Time { return time.Date(2024, 3, 5, 10, 20, 31, 0, time.UTC) }
	return o
}

func TestHandle_Sent(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.objects["messages/abc123"] = []byte(original)
	sender := &mockSender{}
	o := newTestOrchestrator(st, sender, false)

	res, err := o.Handle(context.Background(), testNotification(inbound.StatusPass))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSent {
		t.Fatalf("Status: got %v, want %v", res.Status, StatusSent)
	}
	if res.OutboundID != "outbound-1" {
		t.Errorf("OutboundID: got %q, want %q", res.OutboundID, "outbound-1")
	}

	wantOps := []string{
		"put index/2024/03/05/20240305T102030_jane_example.com_abc123.json",
		"get messages/abc123",
	}
	if strings.Join(st.ops, "\n") != strings.Join(wantOps, "\n") {
		t.Errorf("store ops:\ngot  %v\nwant %v", st.ops, wantOps)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent: got %d, want 1", len(sender.sent))
	}
	out := sender.sent[0]
	if out.From != "jane_example.com@fwd.example" {
		t.Errorf("envelope From: got %q", out.From)
	}
	if len(out.To) != 1 || out.To[0] != "user@relay.example" {
		t.Errorf("envelope To: got %v, want [user@relay.example]", out.To)
	}
	raw := string(out.Raw)
	for _, want := range []string{
		"To: user@relay.example\r\n",
		"From: Jane Doe <jane_example.com@fwd.example>\r\n",
		"Received: from mx.example.com\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("raw missing %q:\n%s", want, raw)
		}
	}
	if strings.Contains(raw, "Cc:") {
		t.Errorf("raw still carries Cc:\n%s", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\nBody text\r\n") {
		t.Errorf("body not preserved:\n%s", raw)
	}
}

func TestHandle_SendFailed(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.objects["messages/abc123"] = []byte(original)
	sendErr := &provider.SendError{Code: "MessageRejected", Message: "Email address is not verified."}
	sender := &mockSender{err: sendErr}
	o := newTestOrchestrator(st, sender, false)

	res, err := o.Handle(context.Background(), testNotification(inbound.StatusPass))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSendFailed {
		t.Fatalf("Status: got %v, want %v", res.Status, StatusSendFailed)
	}
	if !errors.Is(res.Err, sendErr) {
		t.Errorf("Err: got %v, want %v", res.Err, sendErr)
	}
	if res.Detail != sendErr.Error() {
		t.Errorf("Detail: got %q, want %q", res.Detail, sendErr.Error())
	}

	wantKey := "errors/2024/03/05/20240305T102031_abc123.eml"
	if res.ErrorKey != wantKey {
		t.Errorf("ErrorKey: got %q, want %q", res.ErrorKey, wantKey)
	}
	stored, ok := st.objects[wantKey]
	if !ok {
		t.Fatalf("error copy not stored under %s", wantKey)
	}
	if !bytes.Equal(stored, sender.sent[0].Raw) {
		t.Error("error copy differs from the rewritten message")
	}

	// index record precedes the send attempt
	if len(st.ops) == 0 || !strings.HasPrefix(st.ops[0], "put index/") {
		t.Errorf("first op: got %v, want index put", st.ops)
	}
	if len(st.keysWithPrefix("index/")) != 1 {
		t.Error("expected exactly one index record")
	}
}

func TestHandle_Dropped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		notify     func() *inbound.Notification
		wantReason string
	}{
		{
			name:       "spam",
			notify:     func() *inbound.Notification { return testNotification("FAIL") },
			wantReason: gate.ReasonReceiptChecks,
		},
		{
			name: "dmarc reject",
			notify: func() *inbound.Notification {
				n := testNotification(inbound.StatusPass)
				n.Receipt.DMARCVerdict.Status = "FAIL"
				n.Receipt.DMARCPolicy = &inbound.Policy{Status: "reject"}
				return n
			},
			wantReason: gate.ReasonDMARCReject,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := newMemStore()
			sender := &mockSender{}
			o := newTestOrchestrator(st, sender, false)

			res, err := o.Handle(context.Background(), tt.notify())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != StatusDropped || res.Reason != tt.wantReason {
				t.Errorf("got %v/%q, want dropped/%q", res.Status, res.Reason, tt.wantReason)
			}
			if len(st.ops) != 1 || !strings.HasPrefix(st.ops[0], "put index/") {
				t.Errorf("store ops: got %v, want only the index put", st.ops)
			}
			if len(sender.sent) != 0 {
				t.Error("dropped message was sent")
			}
		})
	}
}

func TestHandle_ForceFailure(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	sender := &mockSender{}
	o := newTestOrchestrator(st, sender, true)

	_, err := o.Handle(context.Background(), testNotification(inbound.StatusPass))
	if !errors.Is(err, ErrForcedFailure) {
		t.Fatalf("got %v, want ErrForcedFailure", err)
	}
	if len(st.ops) != 1 {
		t.Errorf("store ops: got %v, want only the index put", st.ops)
	}
	if len(sender.sent) != 0 {
		t.Error("message was sent despite forced failure")
	}

	// dropped messages are not forced to fail
	res, err := o.Handle(context.Background(), testNotification("FAIL"))
	if err != nil || res.Status != StatusDropped {
		t.Errorf("got %v/%v, want dropped with nil error", res.Status, err)
	}
}

func TestHandle_ParseFailure(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.objects["messages/abc123"] = []byte("no header separator here")
	sender := &mockSender{}
	o := newTestOrchestrator(st, sender, false)

	res, err := o.Handle(context.Background(), testNotification(inbound.StatusPass))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusSendFailed {
		t.Fatalf("Status: got %v, want %v", res.Status, StatusSendFailed)
	}
	if !errors.Is(res.Err, rewrite.ErrParse) {
		t.Errorf("Err: got %v, want ErrParse", res.Err)
	}
	if string(st.objects[res.ErrorKey]) != "no header separator here" {
		t.Error("error copy should hold the original")
	}
	if len(sender.sent) != 0 {
		t.Error("unparseable message was sent")
	}
}

func TestHandle_MissingOriginal(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(newMemStore(), &mockSender{}, false)

	_, err := o.Handle(context.Background(), testNotification(inbound.StatusPass))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestHandle_IndexPutFailure(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.putErr = map[string]error{"index/": errors.New("access denied")}
	sender := &mockSender{}
	o := newTestOrchestrator(st, sender, false)

	if _, err := o.Handle(context.Background(), testNotification(inbound.StatusPass)); err == nil {
		t.Fatal("expected error")
	}
	if len(sender.sent) != 0 {
		t.Error("message sent without an index record")
	}
}

func TestHandle_ErrorCopyFailure(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.objects["messages/abc123"] = []byte(original)
	st.putErr = map[string]error{"errors/": errors.New("access denied")}
	o := newTestOrchestrator(st, &mockSender{err: errors.New("boom")}, false)

	res, err := o.Handle(context.Background(), testNotification(inbound.StatusPass))
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Status != StatusSendFailed {
		t.Errorf("Status: got %v, want %v", res.Status, StatusSendFailed)
	}
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	for s, want := range map[Status]string{
		StatusSent:       "sent",
		StatusDropped:    "dropped",
		StatusSendFailed: "send-failed",
		Status(0):        "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String(): got %q, want %q", s, got, want)
		}
	}
}
