// Package parser decodes raw RFC 5322 messages into a readable summary.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/ses-forwarder/internal/email"
)

// Parse decodes raw into an Email. Transfer encodings and known charsets
// are decoded, nested multiparts are flattened. The first text/plain and
// text/html inline parts become the bodies; everything else with a filename
// or attachment disposition is collected as an attachment.
func Parse(raw []byte) (*email.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	result := &email.Email{
		From: h.Get("From"),
		To:   addressList(h, "To"),
		Cc:   addressList(h, "Cc"),
	}
	if result.Subject, err = h.Subject(); err != nil {
		result.Subject = h.Get("Subject")
	}
	if result.MessageID, err = h.MessageID(); err != nil || result.MessageID == "" {
		result.MessageID = h.Get("Message-Id")
	}

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		content, err := io.ReadAll(p.Body)
		if err != nil {
			slog.Warn("failed to read part content", "error", err)
			continue
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			mediaType, params, _ := ph.ContentType()
			if mediaType == "" {
				mediaType = "text/plain"
			}
			switch {
			case mediaType == "text/plain" && result.TextBody == "":
				result.TextBody = string(content)
			case mediaType == "text/html" && result.HtmlBody == "":
				result.HtmlBody = string(content)
			case params["name"] != "":
				result.Attachments = append(result.Attachments, email.Attachment{
					Filename:    params["name"],
					ContentType: mediaType,
					Content:     content,
				})
			case mediaType != "text/plain" && mediaType != "text/html":
				slog.Warn("unrecognized MIME part, skipping", "content_type", mediaType)
			}
		case *mail.AttachmentHeader:
			mediaType, _, _ := ph.ContentType()
			filename, _ := ph.Filename()
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    fallbackFilename(filename, mediaType),
				ContentType: mediaType,
				Content:     content,
			})
		}
	}

	return result, nil
}

// fallbackFilename names an attachment that carries no filename after its
// media subtype.
func fallbackFilename(filename, mediaType string) string {
	if filename != "" {
		return filename
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

// addressList returns the bare addresses in field. Unparseable values are
// split on commas instead.
func addressList(h mail.Header, field string) []string {
	raw := h.Get(field)
	if raw == "" {
		return nil
	}

	addrs, err := h.AddressList(field)
	if err != nil {
		var result []string
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addrs))
	for _, a := range addrs {
		result = append(result, a.Address)
	}
	return result
}
