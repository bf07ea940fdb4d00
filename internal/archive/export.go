// Package archive serializes a bin's events as gzip-compressed JSON Lines
// and optionally uploads the result to S3.
package archive

import (
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/Shivanand-hulikatti/hookdock/internal/model"
)

// ContentType is the media type of an export: a gzip file of JSON Lines.
const ContentType = "application/gzip"

// EventWalker streams a bin's events, oldest first.
type EventWalker interface {
	Walk(ctx context.Context, binID string, fn func(*model.Event) error) error
}

// WriteJSONLGZ writes one JSON object per event of binID to w, gzip
// compressed, and returns the number of events written. The gzip stream is
// only complete when err is nil.
func WriteJSONLGZ(ctx context.Context, events EventWalker, binID string, w io.Writer) (int, error) {
	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return 0, fmt.Errorf("gzip writer: %w", err)
	}
	enc := json.NewEncoder(gz)

	n := 0
	err = events.Walk(ctx, binID, func(e *model.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode event %d: %w", e.ID, err)
		}
		n++
		return nil
	})
	if err != nil {
		_ = gz.Close()
		return n, err
	}
	if err := gz.Close(); err != nil {
		return n, fmt.Errorf("close gzip stream: %w", err)
	}
	return n, nil
}
