// Package rewrite builds the outbound raw message from a stored original.
//
// The default strategy rewrites the sender identity headers in place so that
// every address the sending domain checks is one it has verified, while the
// original sender stays readable in the encoded local part. The attachment
// strategy wraps the untouched original inside a new message instead.
package rewrite

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/textproto"

	"github.com/shineum/ses-forwarder/internal/address"
	"github.com/shineum/ses-forwarder/internal/inbound"
)

// senderHeaders are rewritten through the address codec.
var senderHeaders = map[string]bool{
	"From":        true,
	"Source":      true,
	"Sender":      true,
	"Return-Path": true,
}

// droppedHeaders are removed entirely so the relay only delivers to the
// recipients it controls.
var droppedHeaders = map[string]bool{
	"Cc":  true,
	"Bcc": true,
}

// ErrParse is matched by errors.Is for any failure to split a stored message
// into header and body.
var ErrParse = errors.New("malformed message")

// ParseError reports a stored original that could not be parsed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParse) hold for every ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Builder produces the raw bytes to send for a received message.
type Builder interface {
	Build(original []byte, n *inbound.Notification, recipients []string) ([]byte, error)
}

// Rewriter rewrites sender headers and replaces the recipient set. It holds
// no mutable state and is safe for concurrent use.
type Rewriter struct {
	codec address.Codec
}

// New returns a Rewriter encoding sender addresses with codec.
func New(codec address.Codec) *Rewriter {
	return &Rewriter{codec: codec}
}

// Build implements Builder.
func (r *Rewriter) Build(original []byte, _ *inbound.Notification, recipients []string) ([]byte, error) {
	return r.Rewrite(original, recipients)
}

// Rewrite returns original with From, Source, Sender and Return-Path encoded,
// To replaced by recipients and every Cc and Bcc removed. Rewritten fields
// stay where they were; all other fields keep their original bytes and
// order, and the body is copied verbatim. A missing To is appended at the
// end of the header. Message-ID and Date are left for the sending service to
// replace.
func (r *Rewriter) Rewrite(original []byte, recipients []string) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(original))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	to := strings.Join(recipients, ",")
	var (
		fields []headerField
		seenTo bool
	)
	for f := h.Fields(); f.Next(); {
		k := f.Key()
		switch {
		case droppedHeaders[k]:
			continue
		case k == "To":
			if seenTo {
				continue
			}
			seenTo = true
			fields = append(fields, headerField{key: k, value: to})
		case senderHeaders[k]:
			v := r.codec.Address(unfold(f.Value()))
			slog.Debug("rewrote sender header", "header", k, "value", v)
			fields = append(fields, headerField{key: k, value: v})
		default:
			raw, err := f.Raw()
			if err != nil {
				return nil, &ParseError{Err: err}
			}
			fields = append(fields, headerField{raw: raw})
		}
	}
	if !seenTo {
		fields = append(fields, headerField{key: "To", value: to})
	}

	var buf bytes.Buffer
	buf.Grow(len(original))
	if err := textproto.WriteHeader(&buf, buildHeader(fields)); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// headerField is either an untouched raw field or a replacement key/value.
type headerField struct {
	raw        []byte
	key, value string
}

// buildHeader returns a header holding fields in the given order. Header
// only inserts at the top, so fields are added bottom first.
func buildHeader(fields []headerField) textproto.Header {
	var h textproto.Header
	for i := len(fields) - 1; i >= 0; i-- {
		if f := fields[i]; f.raw != nil {
			h.AddRaw(f.raw)
		} else {
			h.Add(f.key, f.value)
		}
	}
	return h
}

// unfold joins a folded header value back onto one line.
func unfold(v string) string {
	return strings.NewReplacer("\r\n", "", "\n", "").Replace(v)
}

// readHeader parses only the header block of raw.
func readHeader(raw []byte) (textproto.Header, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return textproto.Header{}, &ParseError{Err: err}
	}
	return h, nil
}
