package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 64 * 1024 * 1024
	tradesPrefix       = "archive/trades/"
)

// TradeArchiveStore is the read side the archiver needs.
type TradeArchiveStore interface {
	OldestBefore(ctx context.Context, before time.Time) (time.Time, bool, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error)
}

// BlobIndex answers which archive objects already exist.
type BlobIndex interface {
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// Archiver implements domain.Archiver. Trades are exported one calendar month
// (UTC) per object at archive/trades/YYYY-MM.jsonl. Only months that ended
// before the cutoff are written, and a month already present in the bucket is
// neither queried nor rewritten, so repeated runs are idempotent. Rows are not
// deleted from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	index  BlobIndex
	trades TradeArchiveStore
	audit  domain.AuditStore
	logger *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, index BlobIndex, trades TradeArchiveStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		index:  index,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades exports every complete month of trades older than before and
// returns how many trades were newly uploaded. Months are loaded one at a
// time, and only when their object is missing.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	cutoff := monthStart(before)
	oldest, ok, err := a.trades.OldestBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades oldest: %w", err)
	}
	if !ok {
		return 0, nil
	}

	var archived int64
	for month := monthStart(oldest); month.Before(cutoff); month = month.AddDate(0, 1, 0) {
		path := archivePath(month.Format("2006-01"))
		exists, err := a.index.Exists(ctx, path)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive trades: %w", err)
		}
		if exists {
			a.logger.DebugContext(ctx, "month already archived", slog.String("path", path))
			continue
		}

		trades, err := a.trades.ListBetween(ctx, month, month.AddDate(0, 1, 0))
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive trades query %s: %w", path, err)
		}
		if len(trades) == 0 {
			continue
		}

		n, err := a.upload(ctx, path, trades)
		if err != nil {
			return archived, err
		}
		archived += n

		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":  path,
			"count": n,
		}); err != nil {
			return archived, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
		a.logger.InfoContext(ctx, "trades archived",
			slog.String("path", path),
			slog.Int64("count", n),
		)
	}
	return archived, nil
}

func (a *Archiver) upload(ctx context.Context, path string, trades []domain.Trade) (int64, error) {
	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return int64(len(trades)), nil
}

// Stored lists the monthly trade archives in the bucket, oldest first.
func (a *Archiver) Stored(ctx context.Context) ([]domain.BlobInfo, error) {
	blobs, err := a.index.List(ctx, tradesPrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	slices.SortFunc(blobs, func(x, y domain.BlobInfo) int {
		return strings.Compare(x.Path, y.Path)
	})
	return blobs, nil
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// archivePath returns the object key of one month, e.g.
// archive/trades/2025-01.jsonl.
func archivePath(month string) string {
	return tradesPrefix + month + ".jsonl"
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
