package rewrite

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/ses-forwarder/internal/address"
	"github.com/shineum/ses-forwarder/internal/inbound"
)

// attachmentName is the filename the original message is attached under.
const attachmentName = "orig.eml"

// subjectPrefix marks subjects of wrapped messages.
const subjectPrefix = "[FWD] "

// AttachmentWrapper forwards the original message untouched as an attachment
// of a new multipart/mixed message. It is the lower priority alternative to
// Rewriter for mail that must not be modified at all.
type AttachmentWrapper struct {
	codec address.Codec
	now   func() time.Time
}

// NewAttachmentWrapper returns a wrapper that encodes the original sender
// with codec.
func NewAttachmentWrapper(codec address.Codec) *AttachmentWrapper {
	return &AttachmentWrapper{codec: codec, now: time.Now}
}

// Build implements Builder.
func (w *AttachmentWrapper) Build(original []byte, n *inbound.Notification, recipients []string) ([]byte, error) {
	orig, err := readHeader(original)
	if err != nil {
		return nil, err
	}

	from := unfold(orig.Get("From"))
	if from == "" {
		from = n.Mail.Source
	}
	subject := unfold(orig.Get("Subject"))
	if subject == "" {
		subject = n.Mail.CommonHeaders.Subject
	}

	var h mail.Header
	h.SetDate(w.now())
	h.Set("From", w.codec.Address(from))
	h.Set("To", strings.Join(recipients, ", "))
	h.SetSubject(subjectPrefix + subject)

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if err := writeNotice(mw, n.Mail.MessageID); err != nil {
		return nil, err
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", "application/octet-stream")
	ah.SetFilename(attachmentName)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment part: %w", err)
	}
	if _, err := aw.Write(original); err != nil {
		return nil, fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close attachment: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}
	return buf.Bytes(), nil
}

// writeNotice writes the multipart/alternative text and HTML explanation.
func writeNotice(mw *mail.Writer, messageID string) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create inline part: %w", err)
	}

	text := "Hello,\r\nPlease see the attached file for the forwarded message.\r\nMessage ID: " + messageID + "\r\n"
	markup := "<html>\r\n<body>\r\n<p>Please see the attached file for the forwarded message.</p>\r\n<p>Message ID: " +
		html.EscapeString(messageID) + "</p>\r\n</body>\r\n</html>\r\n"

	parts := []struct {
		mediaType string
		content   string
	}{
		{"text/plain", text},
		{"text/html", markup},
	}
	for _, p := range parts {
		var ih mail.InlineHeader
		ih.SetContentType(p.mediaType, map[string]string{"charset": "utf-8"})
		pw, err := iw.CreatePart(ih)
		if err != nil {
			return fmt.Errorf("failed to create %s part: %w", p.mediaType, err)
		}
		if _, err := io.WriteString(pw, p.content); err != nil {
			return fmt.Errorf("failed to write %s part: %w", p.mediaType, err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("failed to close %s part: %w", p.mediaType, err)
		}
	}

	if err := iw.Close(); err != nil {
		return fmt.Errorf("failed to close inline part: %w", err)
	}
	return nil
}
