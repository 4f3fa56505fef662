// Package backend builds the configured store, provider, notifier and
// message builder for the command entry points.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/ses-forwarder/internal/address"
	"github.com/shineum/ses-forwarder/internal/config"
	"github.com/shineum/ses-forwarder/internal/notify"
	notifysns "github.com/shineum/ses-forwarder/internal/notify/sns"
	notifystdout "github.com/shineum/ses-forwarder/internal/notify/stdout"
	"github.com/shineum/ses-forwarder/internal/provider"
	"github.com/shineum/ses-forwarder/internal/provider/graph"
	"github.com/shineum/ses-forwarder/internal/provider/ses"
	"github.com/shineum/ses-forwarder/internal/provider/smtp"
	"github.com/shineum/ses-forwarder/internal/provider/stdout"
	"github.com/shineum/ses-forwarder/internal/rewrite"
	"github.com/shineum/ses-forwarder/internal/store"
	"github.com/shineum/ses-forwarder/internal/store/fs"
	"github.com/shineum/ses-forwarder/internal/store/minio"
	"github.com/shineum/ses-forwarder/internal/store/s3"
)

// Layout returns the object key layout for cfg.
func Layout(cfg *config.Config) store.Layout {
	return store.Layout{
		Bucket:        cfg.Storage.Bucket,
		MessagePrefix: cfg.Storage.MessagePrefix,
		IndexPrefix:   cfg.Storage.IndexPrefix,
		ErrorPrefix:   cfg.Storage.ErrorPrefix,
	}
}

// Codec returns the sender address codec for cfg.
func Codec(cfg *config.Config) address.Codec {
	return address.NewCodec(cfg.Forward.EmailDomain)
}

// Store opens the configured blob store.
func Store(ctx context.Context, cfg *config.Config) (store.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.StoreS3:
		slog.Info("using S3 store", "bucket", cfg.Storage.Bucket, "region", cfg.Region)
		return s3.New(ctx, s3.Config{
			Region: cfg.Region,
			Bucket: cfg.Storage.Bucket,
		})

	case config.StoreMinIO:
		slog.Info("using MinIO store",
			"endpoint", cfg.Storage.MinIO.Endpoint,
			"bucket", cfg.Storage.Bucket,
		)
		return minio.New(minio.Config{
			Endpoint:        cfg.Storage.MinIO.Endpoint,
			AccessKeyID:     cfg.Storage.MinIO.AccessKey,
			SecretAccessKey: cfg.Storage.MinIO.SecretKey,
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Region,
			Secure:          cfg.Storage.MinIO.Secure,
		})

	case config.StoreFS:
		slog.Info("using filesystem store", "root", cfg.Storage.FSRoot)
		return fs.New(cfg.Storage.FSRoot)

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Storage.Backend)
	}
}

// Provider creates the configured outbound provider.
func Provider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider.Backend {
	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SESRegion())
		return ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SESRegion(),
			AccessKeyID:     cfg.Provider.SES.AccessKeyID,
			SecretAccessKey: cfg.Provider.SES.SecretAccessKey,
		})

	case config.ProviderGraph:
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER are required")
		}
		slog.Info("using Microsoft Graph provider", "sender", cfg.Provider.Graph.Sender)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Provider.Graph.TenantID,
			ClientID:     cfg.Provider.Graph.ClientID,
			ClientSecret: cfg.Provider.Graph.ClientSecret,
			Sender:       cfg.Provider.Graph.Sender,
		}), nil

	case config.ProviderSMTP:
		slog.Info("using SMTP relay provider",
			"addr", cfg.Provider.SMTP.Addr,
			"auth", cfg.Provider.SMTP.Username != "",
			"starttls", cfg.Provider.SMTP.StartTLS,
		)
		return smtp.New(smtp.Config{
			Addr:               cfg.Provider.SMTP.Addr,
			Username:           cfg.Provider.SMTP.Username,
			Password:           cfg.Provider.SMTP.Password,
			StartTLS:           cfg.Provider.SMTP.StartTLS,
			InsecureSkipVerify: cfg.Provider.SMTP.InsecureSkipVerify,
		})

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Backend)
	}
}

// Publisher creates the configured notification publisher.
func Publisher(ctx context.Context, cfg *config.Config) (notify.Publisher, error) {
	switch cfg.Notify.Backend {
	case config.NotifierSNS:
		slog.Info("using SNS notifier", "topic", cfg.Notify.TopicARN)
		return notifysns.New(ctx, cfg.Region, cfg.Notify.TopicARN)

	case config.NotifierStdout:
		slog.Info("using stdout notifier")
		return notifystdout.New(nil), nil

	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notify.Backend)
	}
}

// Builder returns the message builder for the configured forward mode.
func Builder(cfg *config.Config) (rewrite.Builder, error) {
	switch cfg.Forward.Mode {
	case config.ModeRewrite:
		return rewrite.New(Codec(cfg)), nil
	case config.ModeAttach:
		slog.Info("forwarding originals as attachments")
		return rewrite.NewAttachmentWrapper(Codec(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown forward mode %q", cfg.Forward.Mode)
	}
}
