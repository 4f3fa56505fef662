// Package inbound models the SES receipt notifications that trigger the
// forwarder, as delivered to Lambda either directly or wrapped in an SQS
// dead-letter message.
//
// See https://docs.aws.amazon.com/ses/latest/dg/receiving-email-notifications-contents.html
package inbound

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventSourceSES is the eventSource value carried by SES receipt records.
const EventSourceSES = "aws:ses"

// StatusPass is the verdict status of a passing check.
const StatusPass = "PASS"

// Event is the top-level payload of an SES receipt rule Lambda action.
type Event struct {
	Records []Record `json:"Records"`
}

// Record is one entry of an Event. SES is kept as raw JSON so that the
// notification can be persisted exactly as it was received.
type Record struct {
	EventSource  string          `json:"eventSource"`
	EventVersion string          `json:"eventVersion,omitempty"`
	SES          json.RawMessage `json:"ses,omitempty"`
}

// Notification decodes the SES payload of the record.
func (r Record) Notification() (*Notification, error) {
	if len(r.SES) == 0 {
		return nil, fmt.Errorf("record has no ses payload")
	}
	return ParseNotification(r.SES)
}

// Notification is the "ses" object of a receipt record. It is read-only once
// decoded.
type Notification struct {
	Mail    Mail    `json:"mail"`
	Receipt Receipt `json:"receipt"`

	raw json.RawMessage
}

// Mail describes the received message.
type Mail struct {
	Timestamp     time.Time     `json:"timestamp"`
	Source        string        `json:"source"`
	MessageID     string        `json:"messageId"`
	Destination   []string      `json:"destination"`
	CommonHeaders CommonHeaders `json:"commonHeaders"`
}

// CommonHeaders holds the subset of headers SES extracts for convenience.
type CommonHeaders struct {
	From      []string `json:"from,omitempty"`
	To        []string `json:"to,omitempty"`
	Date      string   `json:"date,omitempty"`
	MessageID string   `json:"messageId,omitempty"`
	Subject   string   `json:"subject,omitempty"`
}

// Receipt carries the verdicts produced by SES while receiving the message.
type Receipt struct {
	Timestamp    time.Time `json:"timestamp"`
	Recipients   []string  `json:"recipients"`
	SpamVerdict  Verdict   `json:"spamVerdict"`
	VirusVerdict Verdict   `json:"virusVerdict"`
	SPFVerdict   Verdict   `json:"spfVerdict"`
	DKIMVerdict  Verdict   `json:"dkimVerdict"`
	DMARCVerdict Verdict   `json:"dmarcVerdict"`
	DMARCPolicy  *Policy   `json:"dmarcPolicy,omitempty"`
}

// Verdict is a single check result such as PASS, FAIL, GRAY or
// PROCESSING_FAILED.
type Verdict struct {
	Status string `json:"status"`
}

// Policy is the sender domain's published DMARC policy.
type Policy struct {
	Status string `json:"status"`
}

// UnmarshalJSON accepts both {"status":"reject"} and the bare string form
// "reject" that SES uses in some payloads.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Status = s
		return nil
	}
	var obj struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("failed to parse dmarcPolicy: %w", err)
	}
	p.Status = obj.Status
	return nil
}

// PolicyStatus returns the DMARC policy status, or "" when the receipt
// carries none.
func (r Receipt) PolicyStatus() string {
	if r.DMARCPolicy == nil {
		return ""
	}
	return r.DMARCPolicy.Status
}

// ParseNotification decodes an SES notification object, retaining the
// original bytes for Raw.
func ParseNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to parse ses notification: %w", err)
	}
	n.raw = append(json.RawMessage(nil), data...)
	return &n, nil
}

// Raw returns the notification JSON as received. Notifications built in code
// rather than parsed are marshaled on demand.
func (n *Notification) Raw() json.RawMessage {
	if len(n.raw) > 0 {
		return n.raw
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil
	}
	return data
}

// Recipients returns the receipt recipients, falling back to the envelope
// destination when SES did not report any.
func (n *Notification) Recipients() []string {
	if len(n.Receipt.Recipients) > 0 {
		return n.Receipt.Recipients
	}
	return n.Mail.Destination
}

// Verdicts returns every verdict status keyed by its JSON field name, for
// logging.
func (n *Notification) Verdicts() map[string]string {
	return map[string]string{
		"spamVerdict":  n.Receipt.SpamVerdict.Status,
		"virusVerdict": n.Receipt.VirusVerdict.Status,
		"spfVerdict":   n.Receipt.SPFVerdict.Status,
		"dkimVerdict":  n.Receipt.DKIMVerdict.Status,
		"dmarcVerdict": n.Receipt.DMARCVerdict.Status,
	}
}

// WrapRecord builds the single-record event form of n, the shape an
// administrator can replay against the forwarder.
func WrapRecord(n *Notification) Event {
	return Event{Records: []Record{{
		EventSource:  EventSourceSES,
		EventVersion: "1.0",
		SES:          n.Raw(),
	}}}
}
