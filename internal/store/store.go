// Package store defines the blob storage used for raw messages, notification
// index records and copies of messages that failed to send, together with the
// key layout shared by every component that reads or writes them.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shineum/ses-forwarder/internal/address"
)

// Content types used for stored objects.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMessage = "text/plain"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// BlobStore is a key/value store for opaque objects in a single bucket.
// Writing the same key twice overwrites the previous object.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)

	// Name returns the backend name for logging.
	Name() string
}

// Layout builds object keys from the configured prefixes.
type Layout struct {
	Bucket        string
	MessagePrefix string
	IndexPrefix   string
	ErrorPrefix   string
}

// Message returns the key SES stored the raw original under.
func (l Layout) Message(messageID string) string {
	return l.MessagePrefix + messageID
}

// IndexDay returns the prefix under which index records of the given day are
// stored.
func (l Layout) IndexDay(day time.Time) string {
	return l.IndexPrefix + day.UTC().Format("2006/01/02") + "/"
}

// Index returns the key of the notification index record. source is the
// envelope sender and is reduced to its encoded local part.
func (l Layout) Index(ts time.Time, source, messageID string) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s%s_%s_%s.json",
		l.IndexDay(ts),
		ts.Format("20060102T150405"),
		address.Parse(source).EncodedLocal(),
		messageID,
	)
}

// Error returns the key of the copy of a message that failed to send at ts.
func (l Layout) Error(ts time.Time, messageID string) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s%s/%s_%s.eml",
		l.ErrorPrefix,
		ts.Format("2006/01/02"),
		ts.Format("20060102T150405"),
		messageID,
	)
}

// ErrorPattern returns the error copy key with the time of day left as a
// placeholder, for notices that only know the receipt date.
func (l Layout) ErrorPattern(day time.Time, messageID string) string {
	day = day.UTC()
	return fmt.Sprintf("%s%s/%sTHHMMSS_%s.eml",
		l.ErrorPrefix,
		day.Format("2006/01/02"),
		day.Format("20060102"),
		messageID,
	)
}

// URL returns the s3:// reference of key for human consumption.
func (l Layout) URL(key string) string {
	return "s3://" + l.Bucket + "/" + key
}

// MessageKeyForIndex maps an index record key back to the raw message key
// it describes, or "" if key is not an index key.
func (l Layout) MessageKeyForIndex(key string) string {
	if !strings.HasPrefix(key, l.IndexPrefix) || !strings.HasSuffix(key, ".json") {
		return ""
	}
	name := key[strings.LastIndexByte(key, '/')+1:]
	name = strings.TrimSuffix(name, ".json")
	i := strings.LastIndexByte(name, '_')
	if i < 0 {
		return ""
	}
	return l.Message(name[i+1:])
}
