// Package main is the Lambda entry point that forwards messages received by
// SES to the destination domain.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/shineum/ses-forwarder/internal/backend"
	"github.com/shineum/ses-forwarder/internal/config"
	"github.com/shineum/ses-forwarder/internal/forward"
	"github.com/shineum/ses-forwarder/internal/handler"
	"github.com/shineum/ses-forwarder/internal/logging"
	"github.com/shineum/ses-forwarder/internal/report"
)

func main() {
	cfg, err := config.LoadAuto()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	h, err := newHandler(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize forwarder", "error", err)
		os.Exit(1)
	}

	slog.Info("starting ses-forwarder",
		"email_domain", cfg.Forward.EmailDomain,
		"dest_domain", cfg.Forward.DestDomain,
		"mode", cfg.Forward.Mode,
		"test_failures", cfg.Forward.TestFailures,
	)
	lambda.Start(h.HandleSES)
}

// newHandler wires the configured backends into the SES batch handler.
func newHandler(ctx context.Context, cfg *config.Config) (*handler.Handler, error) {
	st, err := backend.Store(ctx, cfg)
	if err != nil {
		return nil, err
	}
	prov, err := backend.Provider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	builder, err := backend.Builder(cfg)
	if err != nil {
		return nil, err
	}

	layout := backend.Layout(cfg)
	fwd := forward.New(forward.Config{
		Layout:       layout,
		Codec:        backend.Codec(cfg),
		DestDomain:   cfg.Forward.DestDomain,
		ForceFailure: cfg.Forward.TestFailures,
	}, st, builder, prov)

	if !cfg.Forward.NotifyOnSendFailure {
		return handler.New(fwd, nil, false), nil
	}

	pub, err := backend.Publisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return handler.New(fwd, report.New(layout, pub), true), nil
}
