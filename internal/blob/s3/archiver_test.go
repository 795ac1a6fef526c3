package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
)

type memBucket struct {
	objects map[string][]byte
	puts    int
}

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = raw
	b.puts++
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, jsonlContentType)
}

func (b *memBucket) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

func seedAttempts(t *testing.T, store *ledger.MemoryStore, finished ...time.Time) {
	t.Helper()
	for i, ts := range finished {
		_, err := store.Insert(context.Background(), domain.ExecutionAttempt{
			ID:         string(rune('a' + i)),
			Outcome:    domain.OutcomeSuccess,
			StartedAt:  ts.Add(-time.Second),
			FinishedAt: ts,
		})
		require.NoError(t, err)
	}
}

func TestArchiveMonthWritesJSONLAndPrunes(t *testing.T) {
	ctx := context.Background()
	bucket := &memBucket{objects: map[string][]byte{}}
	store := ledger.NewMemoryStore()
	audit := ledger.NewMemoryAudit()

	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	seedAttempts(t, store, jan, jan.Add(48*time.Hour), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	a := NewArchiver(bucket, bucket, store, store, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveMonth(ctx, jan)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, ok := bucket.objects["archive/attempts/2026-01.jsonl"]
	require.True(t, ok)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	var lines int
	for sc.Scan() {
		var got domain.ExecutionAttempt
		require.NoError(t, json.Unmarshal(sc.Bytes(), &got))
		lines++
	}
	assert.Equal(t, 2, lines)

	left, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, left, 1, "february row survives")

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.attempts", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].Detail["pruned"])

	// Re-running the same month leaves the object alone.
	n, err = a.ArchiveMonth(ctx, jan)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, bucket.puts)
}

func TestArchiveEmptyWindowUploadsNothing(t *testing.T) {
	bucket := &memBucket{objects: map[string][]byte{}}
	a := NewArchiver(bucket, nil, ledger.NewMemoryStore(), nil, ledger.NewMemoryAudit(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveMonth(context.Background(), time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bucket.objects)
}

func TestArchiveRejectsInvertedWindow(t *testing.T) {
	a := NewArchiver(&memBucket{objects: map[string][]byte{}}, nil, ledger.NewMemoryStore(), nil, ledger.NewMemoryAudit(), slog.Default())
	now := time.Now()
	_, err := a.ArchiveAttempts(context.Background(), now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://minio:9000", withScheme("minio:9000", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", withScheme("https://s3.example.com", false))
}
