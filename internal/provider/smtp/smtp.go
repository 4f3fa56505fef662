// Package smtp implements a Provider that relays raw messages to an SMTP
// smarthost.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/shineum/ses-forwarder/internal/email"
	"github.com/shineum/ses-forwarder/internal/provider"
)

// Config holds the relay connection settings.
type Config struct {
	// Addr is host:port of the relay.
	Addr     string
	Username string
	Password string

	// StartTLS upgrades the connection before authenticating.
	StartTLS bool

	// InsecureSkipVerify accepts any relay certificate.
	InsecureSkipVerify bool
}

// Provider relays messages over SMTP. Each Send opens its own connection.
type Provider struct {
	cfg Config
}

// New creates a relay provider. It does not connect until the first Send.
func New(cfg Config) (*Provider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("smtp relay address is required")
	}
	return &Provider{cfg: cfg}, nil
}

// Send transmits msg.Raw with msg.From as MAIL FROM and msg.To as the RCPT
// list. Relay rejections are returned as *provider.SendError with the
// three-digit reply code. The returned identifier is generated locally.
func (p *Provider) Send(ctx context.Context, msg *email.Outbound) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c, err := gosmtp.Dial(p.cfg.Addr)
	if err != nil {
		return "", &provider.SendError{Message: fmt.Sprintf("failed to connect to SMTP relay: %v", err), Err: err}
	}
	defer c.Close()

	if p.cfg.StartTLS {
		if err := c.StartTLS(p.tlsConfig()); err != nil {
			return "", sendError("STARTTLS", err)
		}
	}

	if p.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)); err != nil {
			return "", sendError("AUTH", err)
		}
	}

	if err := c.Mail(msg.From, nil); err != nil {
		return "", sendError("MAIL FROM", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return "", sendError("RCPT TO", err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return "", sendError("DATA", err)
	}
	if _, err := bytes.NewReader(msg.Raw).WriteTo(wc); err != nil {
		_ = wc.Close()
		return "", sendError("DATA", err)
	}
	if err := wc.Close(); err != nil {
		return "", sendError("DATA", err)
	}

	if err := c.Quit(); err != nil {
		// already accepted
		slog.Warn("SMTP relay QUIT failed", "message_id", msg.MessageID, "error", err)
	}

	return uuid.NewString(), nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

func (p *Provider) tlsConfig() *tls.Config {
	host, _, err := net.SplitHostPort(p.cfg.Addr)
	if err != nil {
		host = p.cfg.Addr
	}
	return &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify,
	}
}

func sendError(stage string, err error) *provider.SendError {
	se := &provider.SendError{Message: fmt.Sprintf("%s: %v", stage, err), Err: err}
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		se.Code = strconv.Itoa(smtpErr.Code)
		se.Message = fmt.Sprintf("%s: %s", stage, smtpErr.Message)
	}
	return se
}
