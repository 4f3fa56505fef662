package backend

import (
	"context"
	"testing"

	"github.com/shineum/ses-forwarder/internal/config"
	"github.com/shineum/ses-forwarder/internal/rewrite"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage: config.StorageConfig{
			Backend:       config.StoreFS,
			FSRoot:        t.TempDir(),
			Bucket:        "mail-bucket",
			MessagePrefix: "messages/",
			IndexPrefix:   "index/",
			ErrorPrefix:   "errors/",
		},
		Forward: config.ForwardConfig{
			EmailDomain: "fwd.example",
			DestDomain:  "relay.example",
			Mode:        config.ModeRewrite,
		},
		Provider: config.ProviderConfig{Backend: config.ProviderStdout},
		Notify:   config.NotifyConfig{Backend: config.NotifierStdout},
	}
}

func TestLayout(t *testing.T) {
	t.Parallel()

	l := Layout(localConfig(t))
	if l.Bucket != "mail-bucket" || l.MessagePrefix != "messages/" || l.IndexPrefix != "index/" || l.ErrorPrefix != "errors/" {
		t.Errorf("Layout: got %+v", l)
	}
	if got := Codec(localConfig(t)).Domain; got != "fwd.example" {
		t.Errorf("Codec domain: got %q", got)
	}
}

func TestSelectLocalBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := localConfig(t)

	st, err := Store(ctx, cfg)
	if err != nil || st.Name() != "fs" {
		t.Fatalf("Store: got %v, %v", st, err)
	}
	p, err := Provider(ctx, cfg)
	if err != nil || p.Name() != "stdout" {
		t.Fatalf("Provider: got %v, %v", p, err)
	}
	pub, err := Publisher(ctx, cfg)
	if err != nil || pub.Name() != "stdout" {
		t.Fatalf("Publisher: got %v, %v", pub, err)
	}
}

func TestSelectSMTPAndGraph(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := localConfig(t)

	cfg.Provider.Backend = config.ProviderSMTP
	cfg.Provider.SMTP.Addr = "127.0.0.1:2525"
	if p, err := Provider(ctx, cfg); err != nil || p.Name() != "smtp" {
		t.Errorf("smtp: got %v, %v", p, err)
	}

	cfg.Provider.Backend = config.ProviderGraph
	if _, err := Provider(ctx, cfg); err == nil {
		t.Error("graph without credentials: expected error")
	}
	cfg.Provider.Graph = config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "f@relay.example"}
	if p, err := Provider(ctx, cfg); err != nil || p.Name() != "msgraph" {
		t.Errorf("graph: got %v, %v", p, err)
	}
}

func TestSelectUnknown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := localConfig(t)
	cfg.Storage.Backend = "gcs"
	cfg.Provider.Backend = "mailgun"
	cfg.Notify.Backend = "slack"
	cfg.Forward.Mode = "bounce"

	if _, err := Store(ctx, cfg); err == nil {
		t.Error("Store: expected error")
	}
	if _, err := Provider(ctx, cfg); err == nil {
		t.Error("Provider: expected error")
	}
	if _, err := Publisher(ctx, cfg); err == nil {
		t.Error("Publisher: expected error")
	}
	if _, err := Builder(cfg); err == nil {
		t.Error("Builder: expected error")
	}
}

func TestBuilder(t *testing.T) {
	t.Parallel()

	cfg := localConfig(t)
	b, err := Builder(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.(*rewrite.Rewriter); !ok {
		t.Errorf("rewrite mode: got %T", b)
	}

	cfg.Forward.Mode = config.ModeAttach
	b, err = Builder(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.(*rewrite.AttachmentWrapper); !ok {
		t.Errorf("attach mode: got %T", b)
	}
}
