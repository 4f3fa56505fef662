// Package forward runs one received message through the forwarding
// pipeline: index it, gate it, fetch the original, rebuild it and send it.
package forward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/ses-forwarder/internal/address"
	"github.com/shineum/ses-forwarder/internal/email"
	"github.com/shineum/ses-forwarder/internal/gate"
	"github.com/shineum/ses-forwarder/internal/inbound"
	"github.com/shineum/ses-forwarder/internal/provider"
	"github.com/shineum/ses-forwarder/internal/rewrite"
	"github.com/shineum/ses-forwarder/internal/store"
)

// ErrForcedFailure is returned for every message that passes the gate while
// forced failures are enabled.
var ErrForcedFailure = errors.New("forced forwarding failure")

// Status is the terminal outcome of Handle.
type Status int

const (
	StatusSent Status = iota + 1
	StatusDropped
	StatusSendFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDropped:
		return "dropped"
	case StatusSendFailed:
		return "send-failed"
	default:
		return "unknown"
	}
}

// Result describes what Handle did with one notification.
type Result struct {
	Status Status

	// OutboundID is the sender's identifier, set for StatusSent.
	OutboundID string

	// Reason is the gate's drop reason, set for StatusDropped.
	Reason string

	// ErrorKey is where the failed message was stored and Detail is the
	// failure text, both set for StatusSendFailed. Err is the failure itself.
	ErrorKey string
	Detail   string
	Err      error
}

// Config carries the settings the orchestrator needs.
type Config struct {
	Layout store.Layout

	// Codec encodes envelope senders onto the relay's own domain.
	Codec address.Codec

	// DestDomain replaces the domain of every recipient.
	DestDomain string

	// ForceFailure fails every message that passes the gate.
	ForceFailure bool
}

// Orchestrator forwards received messages. It keeps no per-message state and
// may be shared between concurrent invocations.
type Orchestrator struct {
	cfg     Config
	store   store.BlobStore
	builder rewrite.Builder
	sender  provider.Provider
	now     func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, st store.BlobStore, builder rewrite.Builder, sender provider.Provider) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		builder: builder,
		sender:  sender,
		now:     time.Now,
	}
}

// Handle processes n to completion. Drops and send failures are reported
// through Result with a nil error. A non-nil error means the invocation
// itself should fail: the index record or original could not be accessed,
// forced failure is on, or a failed message could not be stored.
func (o *Orchestrator) Handle(ctx context.Context, n *inbound.Notification) (Result, error) {
	id := n.Mail.MessageID
	log := slog.With("message_id", id)

	indexKey := o.cfg.Layout.Index(n.Mail.Timestamp, n.Mail.Source, id)
	if err := o.store.Put(ctx, indexKey, n.Raw(), store.ContentTypeJSON); err != nil {
		return Result{}, fmt.Errorf("failed to store index record %s: %w", indexKey, err)
	}
	log.Debug("stored index record", "key", indexKey)

	if d := gate.Evaluate(n); !d.Pass() {
		log.Info("message dropped",
			"reason", d.Reason,
			"verdicts", n.Verdicts(),
			"dmarc_policy", n.Receipt.PolicyStatus(),
		)
		return Result{Status: StatusDropped, Reason: d.Reason}, nil
	}

	if o.cfg.ForceFailure {
		log.Warn("forcing failure")
		return Result{}, ErrForcedFailure
	}

	recipients := make([]string, 0, len(n.Recipients()))
	for _, r := range n.Recipients() {
		recipients = append(recipients, address.RetargetDomain(r, o.cfg.DestDomain))
	}

	msgKey := o.cfg.Layout.Message(id)
	original, err := o.store.Get(ctx, msgKey)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch message %s: %w", msgKey, err)
	}

	raw, err := o.builder.Build(original, n, recipients)
	if err != nil {
		// nothing was built; keep the original for inspection
		return o.failed(ctx, log, id, original, err)
	}

	out := &email.Outbound{
		MessageID: id,
		From:      o.cfg.Codec.Bare(n.Mail.Source),
		To:        recipients,
		Raw:       raw,
	}
	outboundID, err := o.sender.Send(ctx, out)
	if err != nil {
		return o.failed(ctx, log, id, raw, err)
	}

	log.Info("message forwarded",
		"provider", o.sender.Name(),
		"outbound_id", outboundID,
		"recipients", recipients,
	)
	return Result{Status: StatusSent, OutboundID: outboundID}, nil
}

func (o *Orchestrator) failed(ctx context.Context, log *slog.Logger, id string, data []byte, cause error) (Result, error) {
	res := Result{
		Status:   StatusSendFailed,
		ErrorKey: o.cfg.Layout.Error(o.now(), id),
		Detail:   cause.Error(),
		Err:      cause,
	}

	attrs := []any{"key", res.ErrorKey, "error", res.Detail}
	var sendErr *provider.SendError
	if errors.As(cause, &sendErr) {
		attrs = append(attrs, "code", sendErr.Code)
	}
	log.Error("message not forwarded", attrs...)

	if err := o.store.Put(ctx, res.ErrorKey, data, store.ContentTypeMessage); err != nil {
		return res, fmt.Errorf("failed to store error copy %s: %w", res.ErrorKey, err)
	}
	return res, nil
}
