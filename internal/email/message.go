// Package email defines the message values passed between the forwarder and
// its delivery providers.
package email

// Outbound is a fully built raw message ready for transmission.
type Outbound struct {
	// MessageID is the SES message ID of the received original.
	MessageID string

	// From is the bare envelope sender, already on the relay's own domain.
	From string

	// To are the envelope recipients. Raw carries the same list in its To
	// header.
	To []string

	// Raw is the complete RFC 5322 message.
	Raw []byte
}

// Email is a decoded view of a raw message, used where a human-readable
// summary is needed.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	MessageID   string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
