package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// multipartThreshold is the serialized batch size above which the archiver
// switches to a multipart upload when the writer supports it.
const multipartThreshold = 5 * 1024 * 1024

// multipartWriter is the optional upgrade the S3 writer provides for large
// batches.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves trades older than the retention window from the trade store
// to S3 cold storage as JSONL objects, then deletes the archived rows.
type Archiver struct {
	store         domain.TradeStore
	writer        domain.BlobWriter
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(store domain.TradeStore, writer domain.BlobWriter, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:         store,
		writer:        writer,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// RunInterval runs an archive pass on a fixed interval until the context is
// cancelled. The first pass runs after one full interval.
func (a *Archiver) RunInterval(ctx context.Context, interval time.Duration) error {
	a.logger.Info("archiver started",
		slog.Int("retention_days", a.retentionDays),
		slog.Duration("interval", interval),
	)
	defer a.logger.Info("archiver stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Warn("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Run executes a single archive pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	cutoffMs := cutoff.UnixMilli()

	trades, err := a.store.ListBefore(ctx, cutoffMs)
	if err != nil {
		return fmt.Errorf("pipeline: list trades before %v: %w", cutoff, err)
	}
	if len(trades) == 0 {
		a.logger.Info("nothing to archive", slog.Time("cutoff", cutoff))
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("pipeline: encode trade: %w", err)
		}
	}

	path := fmt.Sprintf("trades/%s/%d.jsonl", cutoff.Format("2006/01/02"), cutoffMs)
	if mw, ok := a.writer.(multipartWriter); ok && buf.Len() > multipartThreshold {
		if err := mw.PutMultipart(ctx, path, &buf, multipartThreshold); err != nil {
			return fmt.Errorf("pipeline: upload archive %s: %w", path, err)
		}
	} else if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("pipeline: upload archive %s: %w", path, err)
	}

	deleted, err := a.store.DeleteBefore(ctx, cutoffMs)
	if err != nil {
		return fmt.Errorf("pipeline: delete archived trades: %w", err)
	}

	a.logger.Info("archive pass complete",
		slog.String("path", path),
		slog.Int("archived", len(trades)),
		slog.Int64("deleted", deleted),
	)
	return nil
}
