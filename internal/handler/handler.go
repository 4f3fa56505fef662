// Package handler adapts Lambda event batches to the forwarder and the
// failure reporter. Records are processed one at a time and a failing record
// never stops its siblings.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/shineum/ses-forwarder/internal/forward"
	"github.com/shineum/ses-forwarder/internal/inbound"
	"github.com/shineum/ses-forwarder/internal/report"
)

// EventSourceSQS is the eventSource of SQS records.
const EventSourceSQS = "aws:sqs"

// ErrUnknownEventSource marks a record from a source the entry point does not
// handle. Such records are logged and skipped, never returned.
var ErrUnknownEventSource = errors.New("unknown event source")

// checkSource returns an ErrUnknownEventSource error unless got is want.
func checkSource(got, want string) error {
	if got == want {
		return nil
	}
	return fmt.Errorf("%w %q, want %q", ErrUnknownEventSource, got, want)
}

// requestIDAttribute is the message attribute Lambda attaches to dead-letter
// entries, naming the failed invocation.
const requestIDAttribute = "RequestID"

// Forwarder handles one received message.
type Forwarder interface {
	Handle(ctx context.Context, n *inbound.Notification) (forward.Result, error)
}

// Reporter publishes one failure notice.
type Reporter interface {
	Report(ctx context.Context, rec report.FailureRecord) (string, error)
}

// Handler holds the collaborators of both entry points. Either may be nil
// when only the other entry point is used.
type Handler struct {
	forwarder Forwarder
	reporter  Reporter

	// notifyOnSendFailure reports send failures as soon as they happen
	// instead of waiting for a dead-letter entry.
	notifyOnSendFailure bool
}

// New creates a Handler.
func New(forwarder Forwarder, reporter Reporter, notifyOnSendFailure bool) *Handler {
	return &Handler{
		forwarder:           forwarder,
		reporter:            reporter,
		notifyOnSendFailure: notifyOnSendFailure && reporter != nil,
	}
}

// HandleSES forwards every SES record in ev. Records from other sources are
// logged and skipped. The returned error joins every record's infrastructure
// failure so the platform retries or dead-letters the invocation; policy
// drops and send failures are not errors.
func (h *Handler) HandleSES(ctx context.Context, ev inbound.Event) error {
	var errs []error
	for i, rec := range ev.Records {
		if err := checkSource(rec.EventSource, inbound.EventSourceSES); err != nil {
			slog.Error("skipping record", "index", i, "error", err)
			continue
		}
		if err := h.forwardRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) forwardRecord(ctx context.Context, rec inbound.Record) error {
	n, err := rec.Notification()
	if err != nil {
		return err
	}
	log := slog.With("message_id", n.Mail.MessageID)
	log.Info("processing message", "source", n.Mail.Source, "destination", n.Mail.Destination)

	res, err := h.forwarder.Handle(ctx, n)
	if err != nil {
		return fmt.Errorf("message %s: %w", n.Mail.MessageID, err)
	}
	if res.Status != forward.StatusSendFailed || !h.notifyOnSendFailure {
		return nil
	}

	if _, err := h.reporter.Report(ctx, report.FailureRecord{
		MessageID:    n.Mail.MessageID,
		Notification: n,
		ErrorDetail:  res.Detail,
		ErrorKey:     res.ErrorKey,
	}); err != nil {
		log.Error("failed to send failure notice", "error", err)
		return err
	}
	return nil
}

// HandleDeadLetter reports every failed SES record carried by the SQS
// batch. Each SQS body is the event of one failed invocation. SQS messages
// whose notices could not all be published are listed as batch item
// failures, and their publish errors are joined into the returned error.
func (h *Handler) HandleDeadLetter(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		resp events.SQSEventResponse
		errs []error
	)
	for _, msg := range ev.Records {
		if err := checkSource(msg.EventSource, EventSourceSQS); err != nil {
			slog.Error("skipping record", "sqs_message_id", msg.MessageId, "error", err)
			continue
		}
		if err := h.reportMessage(ctx, msg); err != nil {
			slog.Error("failed to process dead-letter entry",
				"sqs_message_id", msg.MessageId,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: msg.MessageId,
			})
			errs = append(errs, err)
		}
	}
	return resp, errors.Join(errs...)
}

func (h *Handler) reportMessage(ctx context.Context, msg events.SQSMessage) error {
	requestID := ""
	if attr, ok := msg.MessageAttributes[requestIDAttribute]; ok && attr.StringValue != nil {
		requestID = *attr.StringValue
	}
	log := slog.With("request_id", requestID)
	log.Info("processing failed request")

	var failed inbound.Event
	if err := json.Unmarshal([]byte(msg.Body), &failed); err != nil {
		// redelivery cannot fix a malformed body
		log.Error("failed to decode dead-letter body, skipping", "error", err)
		return nil
	}

	var errs []error
	for _, rec := range failed.Records {
		if err := checkSource(rec.EventSource, inbound.EventSourceSES); err != nil {
			log.Error("skipping failed record", "error", err)
			continue
		}
		n, err := rec.Notification()
		if err != nil {
			log.Error("failed to decode failed record, skipping", "error", err)
			continue
		}
		log.Info("message failure details",
			"message_id", n.Mail.MessageID,
			"timestamp", n.Mail.Timestamp,
			"source", n.Mail.Source,
			"destination", n.Mail.Destination,
		)
		if _, err := h.reporter.Report(ctx, report.FailureRecord{
			MessageID:    n.Mail.MessageID,
			Notification: n,
			RequestID:    requestID,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
