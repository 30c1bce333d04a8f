package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	puts    int
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, b := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

type fakeTrades struct {
	trades  []domain.Trade
	cutoff  time.Time
	queried []string
}

func (f *fakeTrades) OldestBefore(_ context.Context, before time.Time) (time.Time, bool, error) {
	f.cutoff = before
	var oldest time.Time
	found := false
	for _, t := range f.trades {
		if t.CreatedAt.Before(before) && (!found || t.CreatedAt.Before(oldest)) {
			oldest, found = t.CreatedAt, true
		}
	}
	return oldest, found, nil
}

func (f *fakeTrades) ListBetween(_ context.Context, from, to time.Time) ([]domain.Trade, error) {
	f.queried = append(f.queried, from.Format("2006-01"))
	var out []domain.Trade
	for _, t := range f.trades {
		if !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type fakeAudit struct {
	events []string
	fail   bool
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	if f.fail {
		return errors.New("audit down")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func trade(id string, at time.Time) domain.Trade {
	return domain.Trade{ID: id, MarketID: "m1", OutcomeID: "YES", Side: "buy", Shares: 10, CreatedAt: at}
}

func newTestArchiver(trades []domain.Trade) (*Archiver, *memBlobs, *fakeTrades, *fakeAudit) {
	blobs := &memBlobs{objects: map[string][]byte{}}
	store := &fakeTrades{trades: trades}
	audit := &fakeAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(blobs, blobs, store, audit, logger), blobs, store, audit
}

func TestArchiveTradesByMonth(t *testing.T) {
	jan := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 1, 0, time.UTC)
	a, blobs, store, audit := newTestArchiver([]domain.Trade{
		trade("t1", jan), trade("t2", jan.Add(time.Hour)), trade("t3", feb), trade("t4", mar),
	})

	n, err := a.ArchiveTrades(context.Background(), time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), store.cutoff)

	require.Contains(t, blobs.objects, "archive/trades/2025-01.jsonl")
	require.Contains(t, blobs.objects, "archive/trades/2025-02.jsonl")
	assert.NotContains(t, blobs.objects, "archive/trades/2025-03.jsonl")
	assert.Equal(t, []string{"archive.trades", "archive.trades"}, audit.events)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(blobs.objects["archive/trades/2025-01.jsonl"]))
	for sc.Scan() {
		var tr domain.Trade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"t1", "t2"}, ids)
}

func TestArchiveTradesIsIdempotent(t *testing.T) {
	jan := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	a, blobs, _, _ := newTestArchiver([]domain.Trade{trade("t1", jan)})
	before := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	n, err := a.ArchiveTrades(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = a.ArchiveTrades(context.Background(), before)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, blobs.puts)
}

func TestArchiveTradesSkipsQueryForStoredMonths(t *testing.T) {
	a, blobs, store, _ := newTestArchiver([]domain.Trade{
		trade("t1", time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC)),
		trade("t2", time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)),
		trade("t3", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)),
	})
	ctx := context.Background()

	_, err := a.ArchiveTrades(ctx, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-11", "2024-12", "2025-01"}, store.queried)
	assert.Len(t, blobs.objects, 2)

	store.queried = nil
	n, err := a.ArchiveTrades(ctx, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"2024-12", "2025-02", "2025-03"}, store.queried)
	assert.Contains(t, blobs.objects, "archive/trades/2025-03.jsonl")
}

func TestStoredListsArchivesInOrder(t *testing.T) {
	a, blobs, _, _ := newTestArchiver([]domain.Trade{
		trade("t1", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)),
		trade("t2", time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)),
	})
	blobs.objects["other/readme.txt"] = []byte("x")

	_, err := a.ArchiveTrades(context.Background(), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	stored, err := a.Stored(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "archive/trades/2025-01.jsonl", stored[0].Path)
	assert.Equal(t, "archive/trades/2025-03.jsonl", stored[1].Path)
	assert.Positive(t, stored[0].Size)
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	a, blobs, _, audit := newTestArchiver(nil)
	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
	assert.Empty(t, audit.events)
}

func TestArchiveTradesAuditFailure(t *testing.T) {
	jan := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	a, _, _, audit := newTestArchiver([]domain.Trade{trade("t1", jan)})
	audit.fail = true

	n, err := a.ArchiveTrades(context.Background(), time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("https://e2.example.com", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(fmt.Errorf("head: %w", &types.NotFound{})))
	assert.False(t, isNotFound(errors.New("access denied")))
	assert.False(t, isNotFound(nil))
}
