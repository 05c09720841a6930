package persist

import (
	"context"
	"sort"
	"sync"

	"Gin_postgres_redis_rent_tracker/models"
)

// Memory is a process-local Persistence, used for demo runs and tests.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]models.Equipment
	ledger []models.LedgerEntry // ascending id

	// Fail, when set, is returned by every write.
	Fail error
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]models.Equipment)}
}

func (m *Memory) LoadAll(_ context.Context) ([]models.Equipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Equipment, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SaveAll(_ context.Context, records []models.Equipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.docs = make(map[string]models.Equipment, len(records))
	for _, r := range records {
		m.docs[r.ID] = r.Clone()
	}
	return nil
}

func (m *Memory) SaveOne(_ context.Context, record models.Equipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.docs[record.ID] = record.Clone()
	return nil
}

func (m *Memory) DeleteOne(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	delete(m.docs, id)
	return nil
}

func (m *Memory) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.docs = make(map[string]models.Equipment)
	return nil
}

func (m *Memory) AppendLedgerEntry(_ context.Context, entry models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	i := sort.Search(len(m.ledger), func(i int) bool { return m.ledger[i].ID >= entry.ID })
	m.ledger = append(m.ledger, models.LedgerEntry{})
	copy(m.ledger[i+1:], m.ledger[i:])
	m.ledger[i] = entry
	return nil
}

func (m *Memory) ListLedger(_ context.Context, q models.LedgerQuery) (models.LedgerPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := q.PageSize()
	var page models.LedgerPage
	for i := len(m.ledger) - 1; i >= 0; i-- {
		e := m.ledger[i]
		if q.Before != "" && e.ID >= q.Before {
			continue
		}
		if !MatchLedger(q, e) {
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

// Get returns the stored document for id.
func (m *Memory) Get(id string) (models.Equipment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d.Clone(), ok
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// MatchLedger applies the attribute filters of q to e. The Before cursor is not checked.
func MatchLedger(q models.LedgerQuery, e models.LedgerEntry) bool {
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.ProductID != "" && e.ProductID != q.ProductID {
		return false
	}
	return true
}
