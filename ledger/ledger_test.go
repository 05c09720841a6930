package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
)

type recordingMirror struct {
	pushed chan models.LedgerEntry
}

func (m *recordingMirror) Push(_ context.Context, e models.LedgerEntry) error {
	m.pushed <- e
	return nil
}

// orderedMirror records push order; the first push is slow.
type orderedMirror struct {
	mu    sync.Mutex
	first sync.Once
	ids   []string
}

func (m *orderedMirror) Push(_ context.Context, e models.LedgerEntry) error {
	m.first.Do(func() { time.Sleep(50 * time.Millisecond) })
	m.mu.Lock()
	m.ids = append(m.ids, e.ID)
	m.mu.Unlock()
	return nil
}

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	l, err := New(1, opts...)
	require.NoError(t, err)
	return l
}

func TestAppendNewestFirstAndCapped(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < models.LedgerCap+5; i++ {
		l.Append(models.LedgerEntry{Type: models.EntryRental, ProductID: fmt.Sprintf("P%03d", i)})
	}

	recent := l.Recent(0)
	require.Len(t, recent, models.LedgerCap)
	assert.Equal(t, "P104", recent[0].ProductID)
	assert.Equal(t, "P005", recent[len(recent)-1].ProductID)
	for i := 1; i < len(recent); i++ {
		assert.Greater(t, recent[i-1].ID, recent[i].ID, "ids sort by time")
	}
}

func TestAppendStampsTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newTestLedger(t, WithClock(func() time.Time { return at }))

	e := l.Append(models.LedgerEntry{Type: models.EntryReturn, ProductID: "P001"})
	assert.Equal(t, at, e.Time)
	assert.Len(t, e.ID, 20)

	given := at.Add(time.Hour)
	e = l.Append(models.LedgerEntry{Type: models.EntryReturn, ProductID: "P001", Time: given})
	assert.Equal(t, given, e.Time)
}

func TestRecentLimit(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 3; i++ {
		l.Append(models.LedgerEntry{Type: models.EntryRental, ProductID: fmt.Sprint(i)})
	}
	got := l.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ProductID)

	got[0].ProductID = "mutated"
	assert.Equal(t, "2", l.Recent(1)[0].ProductID)
	assert.Len(t, l.Recent(10), 3)
}

func TestAppendForwardsToPersistenceAndMirror(t *testing.T) {
	mem := persist.NewMemory()
	saver, err := persist.NewSaver(2, time.Second)
	require.NoError(t, err)
	defer saver.Close()
	mirror := &recordingMirror{pushed: make(chan models.LedgerEntry, 1)}

	l := newTestLedger(t, WithPersistence(mem, saver), WithMirror(mirror))
	e := l.Append(models.LedgerEntry{Type: models.EntryStatusChange, ProductID: "P001"})
	saver.Flush()

	page, err := mem.ListLedger(context.Background(), models.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, e.ID, page.Entries[0].ID)
	assert.Equal(t, e.ID, (<-mirror.pushed).ID)
}

func TestWarmLoadsNewestPage(t *testing.T) {
	mem := persist.NewMemory()
	src := newTestLedger(t)
	ctx := context.Background()
	for i := 0; i < models.LedgerCap+20; i++ {
		e := src.Append(models.LedgerEntry{Type: models.EntryRental, ProductID: fmt.Sprint(i)})
		require.NoError(t, mem.AppendLedgerEntry(ctx, e))
	}

	l := newTestLedger(t, WithPersistence(mem, nil))
	require.NoError(t, l.Warm(ctx))
	// the page size caps at 200 so a warm read fits the working list
	assert.Equal(t, models.LedgerCap, l.Len())
	assert.Equal(t, src.Recent(1)[0].ID, l.Recent(1)[0].ID)
}

func TestQueryWithoutPersistence(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 5; i++ {
		l.Append(models.LedgerEntry{Type: models.EntryRental, ProductID: "P001", ActorID: "u1"})
		l.Append(models.LedgerEntry{Type: models.EntryReturn, ProductID: "P002", ActorID: "u2"})
	}
	ctx := context.Background()

	page, err := l.Query(ctx, models.LedgerQuery{ActorID: "u1", Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.NotEmpty(t, page.NextBefore)
	for _, e := range page.Entries {
		assert.Equal(t, models.EntryRental, e.Type)
	}

	next, err := l.Query(ctx, models.LedgerQuery{ActorID: "u1", Limit: 3, Before: page.NextBefore})
	require.NoError(t, err)
	assert.Len(t, next.Entries, 2)
	assert.Empty(t, next.NextBefore)
	assert.Less(t, next.Entries[0].ID, page.Entries[2].ID)
}

func TestNewRejectsBadNode(t *testing.T) {
	_, err := New(5000)
	assert.Error(t, err)
}

func TestMirrorKeepsAppendOrder(t *testing.T) {
	saver, err := persist.NewSaver(4, time.Second)
	require.NoError(t, err)
	defer saver.Close()
	mirror := &orderedMirror{}

	l := newTestLedger(t, WithPersistence(persist.NewMemory(), saver), WithMirror(mirror))
	var want []string
	for i := 0; i < 4; i++ {
		want = append(want, l.Append(models.LedgerEntry{Type: models.EntryRental, ProductID: fmt.Sprint(i)}).ID)
	}
	saver.Flush()

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Equal(t, want, mirror.ids)
}
