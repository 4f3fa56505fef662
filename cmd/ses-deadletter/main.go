// Package main is the Lambda entry point that turns dead-lettered
// forwarder invocations into administrator notices.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/shineum/ses-forwarder/internal/backend"
	"github.com/shineum/ses-forwarder/internal/config"
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

	pub, err := backend.Publisher(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to create notifier", "error", err)
		os.Exit(1)
	}

	h := handler.New(nil, report.New(backend.Layout(cfg), pub), false)

	slog.Info("starting ses-deadletter", "notifier", pub.Name())
	lambda.Start(h.HandleDeadLetter)
}
