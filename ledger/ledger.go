// Package ledger keeps the newest-first working list of transaction entries
// and forwards every entry to durable storage and an optional fast mirror.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
)

// Mirror receives a copy of each appended entry (e.g. a Redis list shared by instances).
type Mirror interface {
	Push(ctx context.Context, entry models.LedgerEntry) error
}

const mirrorLane = "ledger:mirror"

type Option func(*Ledger)

func WithPersistence(p persist.Persistence, saver *persist.Saver) Option {
	return func(l *Ledger) {
		l.persist = p
		l.saver = saver
	}
}

func WithMirror(m Mirror) Option {
	return func(l *Ledger) { l.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

type Ledger struct {
	mu      sync.RWMutex
	entries []models.LedgerEntry // newest first
	cap     int

	node    *snowflake.Node
	now     func() time.Time
	persist persist.Persistence
	saver   *persist.Saver
	mirror  Mirror
}

// New builds a ledger whose entry ids come from snowflake node nodeID (0..1023).
func New(nodeID int64, opts ...Option) (*Ledger, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	l := &Ledger{cap: models.LedgerCap, node: node, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append stamps an id (and the time, unless the caller set one) on entry,
// prepends it and trims the list to the cap.
func (l *Ledger) Append(entry models.LedgerEntry) models.LedgerEntry {
	l.mu.Lock()
	entry.ID = FormatID(l.node.Generate())
	if entry.Time.IsZero() {
		entry.Time = l.now()
	}
	l.entries = append([]models.LedgerEntry{entry}, l.entries...)
	if len(l.entries) > l.cap {
		l.entries = l.entries[:l.cap]
	}

	if l.persist != nil {
		p := l.persist
		l.saver.Go("ledger_append", entry.ID, func(ctx context.Context) error {
			return p.AppendLedgerEntry(ctx, entry)
		})
	}
	// 镜像共用一个 key：LPUSH 顺序必须和追加顺序一致
	if l.mirror != nil {
		m := l.mirror
		l.saver.Go("ledger_mirror", mirrorLane, func(ctx context.Context) error {
			return m.Push(ctx, entry)
		})
	}
	l.mu.Unlock()
	return entry
}

// Recent returns up to n newest entries; n <= 0 returns the whole working list.
func (l *Ledger) Recent(n int) []models.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]models.LedgerEntry, n)
	copy(out, l.entries[:n])
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Warm seeds the working list from durable storage at startup.
func (l *Ledger) Warm(ctx context.Context) error {
	if l.persist == nil {
		return nil
	}
	page, err := l.persist.ListLedger(ctx, models.LedgerQuery{Limit: l.cap})
	if err != nil {
		return fmt.Errorf("warm ledger: %w", err)
	}
	l.mu.Lock()
	l.entries = append(l.entries[:0], page.Entries...)
	l.mu.Unlock()
	zap.L().Info("ledger warmed", zap.Int("entries", len(page.Entries)))
	return nil
}

// Query pages through the durable ledger. Without persistence it filters the working list.
func (l *Ledger) Query(ctx context.Context, q models.LedgerQuery) (models.LedgerPage, error) {
	if l.persist != nil {
		return l.persist.ListLedger(ctx, q)
	}
	size := q.PageSize()
	var page models.LedgerPage
	for _, e := range l.Recent(0) {
		if q.Before != "" && e.ID >= q.Before {
			continue
		}
		if !persist.MatchLedger(q, e) {
			continue
		}
		if len(page.Entries) == size {
			page.NextBefore = page.Entries[size-1].ID
			break
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

// FormatID zero pads a snowflake id so lexical order matches time order.
func FormatID(id snowflake.ID) string {
	return fmt.Sprintf("%020d", id.Int64())
}
