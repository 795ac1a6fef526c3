package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// Payloads above this go through the multipart uploader.
	multipartThreshold = 16 << 20
)

// AttemptSource is the slice of the attempt store the archiver reads.
type AttemptSource interface {
	ListRange(ctx context.Context, since, until time.Time) ([]domain.ExecutionAttempt, error)
}

// AttemptPruner removes archived rows from the primary store.
type AttemptPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ObjectChecker reports whether an archive object already exists.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver implements domain.Archiver. It writes one JSONL object per
// calendar month at archive/attempts/YYYY-MM.jsonl and records the run in
// the audit log. Rows are pruned only when a pruner is configured and the
// upload succeeded.
type Archiver struct {
	writer domain.BlobWriter
	exists ObjectChecker
	source AttemptSource
	pruner AttemptPruner
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver wires an Archiver. exists and pruner may be nil.
func NewArchiver(writer domain.BlobWriter, exists ObjectChecker, source AttemptSource, pruner AttemptPruner, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		exists: exists,
		source: source,
		pruner: pruner,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveAttempts uploads attempts finished in [since, before). The object
// is keyed by the month of since; an existing object is left untouched and
// reported as zero rows.
func (a *Archiver) ArchiveAttempts(ctx context.Context, since, before time.Time) (int64, error) {
	if !before.After(since) {
		return 0, fmt.Errorf("s3blob: archive window %s..%s: %w", since.Format(time.RFC3339), before.Format(time.RFC3339), domain.ErrInvalidConfig)
	}
	path := archivePath("attempts", since)

	if a.exists != nil {
		ok, err := a.exists.Exists(ctx, path)
		if err != nil {
			return 0, err
		}
		if ok {
			a.logger.InfoContext(ctx, "archive already present", slog.String("path", path))
			return 0, nil
		}
	}

	attempts, err := a.source.ListRange(ctx, since, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(attempts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	count := int64(len(attempts))
	var pruned int64
	if a.pruner != nil {
		if pruned, err = a.pruner.DeleteBefore(ctx, before); err != nil {
			return count, fmt.Errorf("s3blob: archive prune: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "attempts archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("pruned", pruned),
	)
	if err := a.audit.Log(ctx, "archive.attempts", map[string]any{
		"path":   path,
		"count":  count,
		"pruned": pruned,
		"since":  since.UTC().Format(time.RFC3339),
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit: %w", err)
	}
	return count, nil
}

// ArchiveMonth archives the calendar month (UTC) containing t.
func (a *Archiver) ArchiveMonth(ctx context.Context, t time.Time) (int64, error) {
	start := time.Date(t.UTC().Year(), t.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	return a.ArchiveAttempts(ctx, start, start.AddDate(0, 1, 0))
}

// archivePath yields e.g. archive/attempts/2026-01.jsonl.
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.UTC().Format("2006-01"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
