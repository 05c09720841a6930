// Package store holds the authoritative in-memory equipment set and mediates
// its durable storage.
package store

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
)

const (
	IDPrefix = "P"
)

var idPattern = regexp.MustCompile(`^` + IDPrefix + `(\d+)$`)

type Option func(*Store)

// WithPersistence routes every mutation to p through the saver.
func WithPersistence(p persist.Persistence, saver *persist.Saver) Option {
	return func(s *Store) {
		s.persist = p
		s.saver = saver
	}
}

// WithSerials enables serial number assignment on create.
func WithSerials(gen *SerialGenerator) Option {
	return func(s *Store) { s.serials = gen }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu       sync.RWMutex
	records  map[string]models.Equipment
	order    []string
	bySerial map[string]string

	serials *SerialGenerator
	persist persist.Persistence
	saver   *persist.Saver
	now     func() time.Time
}

func New(opts ...Option) *Store {
	s := &Store{
		records:  make(map[string]models.Equipment),
		bySerial: make(map[string]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory set with what persistence holds.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	records, err := s.persist.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load equipment: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]models.Equipment, len(records))
	s.bySerial = make(map[string]string, len(records))
	s.order = s.order[:0]
	for _, r := range records {
		if _, dup := s.records[r.ID]; dup {
			zap.L().Warn("duplicate equipment id in storage, keeping first", zap.String("id", r.ID))
			continue
		}
		s.insertLocked(r)
	}
	zap.L().Info("equipment loaded", zap.Int("count", len(s.order)))
	return nil
}

// Create registers a new unit. Lifecycle fields are reset to their initial values.
func (s *Store) Create(rec models.Equipment) (models.Equipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.createLocked(rec, s.now())
	if err != nil {
		return models.Equipment{}, err
	}
	s.queueSave(out)
	return out.Clone(), nil
}

func (s *Store) createLocked(rec models.Equipment, now time.Time) (models.Equipment, error) {
	if _, ok := s.records[rec.ID]; ok {
		return models.Equipment{}, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	if rec.Category == "" {
		rec.Category = DefaultCategory
	}
	if rec.TotalHours < 0 {
		rec.TotalHours = 0
	}
	rec.SerialNumber = ""
	if s.serials != nil {
		serial, err := s.serials.Generate(s.serialTakenLocked)
		if err != nil {
			return models.Equipment{}, err
		}
		rec.SerialNumber = serial
	}
	rec.RemainingHours = rec.TotalHours
	rec.Status = models.StatusUnchecked
	rec.IsRented = false
	rec.RentalCompany = ""
	rec.RentalDate = nil
	rec.RentalHistory = []models.RentalCycle{}
	rec.RepairHistory = []models.RepairCycle{}
	rec.CurrentRentalIndex = nil
	rec.LastNote, rec.LastCompany, rec.LastUsedHours = "", "", nil
	rec.ReservedBy, rec.ReservedDate = "", nil
	rec.CreatedAt = now
	rec.LastUpdated = now

	s.insertLocked(rec)
	return rec, nil
}

func (s *Store) insertLocked(rec models.Equipment) {
	rec = rec.Clone()
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	if rec.SerialNumber != "" {
		s.bySerial[rec.SerialNumber] = rec.ID
	}
}

func (s *Store) serialTakenLocked(serial string) bool {
	_, ok := s.bySerial[serial]
	return ok
}

// NewSerial returns an unused serial number without assigning it.
func (s *Store) NewSerial() (string, error) {
	gen := s.serials
	if gen == nil {
		gen = NewSerialGenerator()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return gen.Generate(s.serialTakenLocked)
}

// Put replaces an existing record. The id and serial of the stored record are kept.
func (s *Store) Put(rec models.Equipment) error {
	s.mu.Lock()
	cur, ok := s.records[rec.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	rec = rec.Clone()
	rec.SerialNumber = cur.SerialNumber
	rec.CreatedAt = cur.CreatedAt
	s.records[rec.ID] = rec
	// 写入在锁内排队，同一 id 的落盘顺序与内存修改顺序一致
	s.queueSave(rec)
	s.mu.Unlock()
	return nil
}

// Delete removes the unit. Deleting an absent id is a no-op and reports false.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		delete(s.records, id)
		if rec.SerialNumber != "" {
			delete(s.bySerial, rec.SerialNumber)
		}
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		if s.persist != nil {
			p := s.persist
			s.saver.Go("delete", id, func(ctx context.Context) error { return p.DeleteOne(ctx, id) })
		}
	}
	s.mu.Unlock()
	return ok
}

// DeleteAll empties the store and returns how many units were removed.
func (s *Store) DeleteAll() int {
	s.mu.Lock()
	n := len(s.records)
	s.records = make(map[string]models.Equipment)
	s.bySerial = make(map[string]string)
	s.order = nil
	if s.persist != nil {
		s.saver.GoBarrier("delete_all", s.persist.DeleteAll)
	}
	s.mu.Unlock()
	return n
}

func (s *Store) FindByID(id string) (models.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return models.Equipment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *Store) FindBySerial(serial string) (models.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySerial[serial]
	if !ok {
		return models.Equipment{}, fmt.Errorf("%w: serial %s", ErrNotFound, serial)
	}
	return s.records[id].Clone(), nil
}

func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns copies of every record in insertion order.
func (s *Store) All() []models.Equipment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Equipment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}

// Snapshot is All under the name the reconcile job uses.
func (s *Store) Snapshot() []models.Equipment { return s.All() }

// SaveAll writes the full snapshot synchronously. Used to heal divergence
// after background write failures. The snapshot is taken once every queued
// write has landed, and writes queued meanwhile land after it.
func (s *Store) SaveAll(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	p := s.persist
	err := s.saver.Barrier(ctx, "save_all", func(ctx context.Context) error {
		return p.SaveAll(ctx, s.Snapshot())
	})
	if err != nil {
		return &persist.StorageError{Op: "save_all", Err: err}
	}
	return nil
}

// BulkCreate registers every valid row of text. Duplicate ids, including
// repeats within the same batch, are skipped. Added records are returned in row order.
func (s *Store) BulkCreate(text string) (BulkResult, []models.Equipment, error) {
	rows, invalid := ParseBulk(text)
	res := BulkResult{Skipped: invalid}
	var added []models.Equipment

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if _, dup := s.records[row.ID]; dup {
			res.Skipped++
			continue
		}
		rec, err := s.createLocked(models.Equipment{
			ID:         row.ID,
			Name:       row.Name,
			Category:   row.Category,
			TotalHours: row.TotalHours,
		}, now)
		if err != nil {
			return res, cloneAll(added), err
		}
		s.queueSave(rec)
		added = append(added, rec)
		res.Added++
	}
	return res, cloneAll(added), nil
}

// NextID suggests the next sequential id: the largest P<n> plus one, zero padded to three digits.
func (s *Store) NextID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for id := range s.records {
		m := idPattern.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", IDPrefix, max+1)
}

// queueSave must be called with s.mu held.
func (s *Store) queueSave(rec models.Equipment) {
	if s.persist == nil {
		return
	}
	p := s.persist
	doc := rec.Clone()
	s.saver.Go("save", doc.ID, func(ctx context.Context) error { return p.SaveOne(ctx, doc) })
}

func cloneAll(in []models.Equipment) []models.Equipment {
	out := make([]models.Equipment, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
