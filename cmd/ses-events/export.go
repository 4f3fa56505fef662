package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/shineum/ses-forwarder/internal/inbound"
	"github.com/shineum/ses-forwarder/internal/store"
)

// export writes the last count index records of day, in key order, to outDir
// as single-record SES events. Each file is named after its index key and
// objects that are not index records are ignored. It returns the written
// paths.
func export(ctx context.Context, st store.BlobStore, layout store.Layout, day time.Time, count int, outDir string) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}

	prefix := layout.IndexDay(day)
	keys, err := st.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list index records: %w", err)
	}

	var records []string
	for _, k := range keys {
		if layout.MessageKeyForIndex(k) == "" {
			slog.Debug("skipping non-index object", "key", k)
			continue
		}
		records = append(records, k)
	}
	sort.Strings(records)
	if len(records) > count {
		records = records[len(records)-count:]
	}
	if len(records) == 0 {
		slog.Info("no index records found", "prefix", prefix)
		return nil, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	written := make([]string, 0, len(records))
	for _, key := range records {
		data, err := st.Get(ctx, key)
		if err != nil {
			return written, fmt.Errorf("failed to read %s: %w", key, err)
		}
		n, err := inbound.ParseNotification(data)
		if err != nil {
			return written, fmt.Errorf("failed to decode %s: %w", key, err)
		}

		out, err := json.MarshalIndent(inbound.WrapRecord(n), "", "  ")
		if err != nil {
			return written, fmt.Errorf("failed to encode event for %s: %w", key, err)
		}

		p := filepath.Join(outDir, path.Base(key))
		if err := os.WriteFile(p, append(out, '\n'), 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", p, err)
		}
		slog.Info("wrote event",
			"key", key,
			"file", p,
			"message_id", n.Mail.MessageID,
			"message", layout.URL(layout.MessageKeyForIndex(key)),
		)
		written = append(written, p)
	}
	return written, nil
}
