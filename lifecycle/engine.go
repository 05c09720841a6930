// Package lifecycle validates and applies equipment state transitions and
// records each successful one in the ledger.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/ledger"
	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/store"
)

const (
	TopicChanged = "equipment:changed"
	TopicCleared = "equipment:cleared"
)

type EventKind string

const (
	EventRegistered    EventKind = "registered"
	EventRented        EventKind = "rented"
	EventReturned      EventKind = "returned"
	EventStatusChanged EventKind = "status-changed"
	EventDeleted       EventKind = "deleted"
	EventCleared       EventKind = "cleared"
)

// Event is published after every successful command.
type Event struct {
	Kind      EventKind           `json:"kind"`
	ProductID string              `json:"productId,omitempty"`
	Record    *models.Equipment   `json:"record,omitempty"`
	Entry     *models.LedgerEntry `json:"entry,omitempty"`
	Count     int                 `json:"count,omitempty"`
	Actor     Actor               `json:"actor"`
}

// Publisher is satisfied by EventBus.Bus.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.bus = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs commands one at a time. Every failed command leaves the store untouched.
type Engine struct {
	mu     sync.Mutex
	store  *store.Store
	ledger *ledger.Ledger
	bus    Publisher
	now    func() time.Time
}

func NewEngine(st *store.Store, lg *ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{store: st, ledger: lg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Register(ctx context.Context, cmd RegisterCmd) (models.Equipment, *models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.Equipment{}, nil, err
	}
	id := strings.TrimSpace(cmd.ID)
	name := strings.TrimSpace(cmd.Name)
	if id == "" || name == "" {
		return models.Equipment{}, nil, fmt.Errorf("%w: id and name are required", ErrValidation)
	}
	if cmd.TotalHours < 0 {
		return models.Equipment{}, nil, ErrInvalidHours
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.store.Create(models.Equipment{
		ID:         id,
		Name:       name,
		Category:   strings.TrimSpace(cmd.Category),
		TotalHours: cmd.TotalHours,
		Note:       strings.TrimSpace(cmd.Note),
	})
	if err != nil {
		return models.Equipment{}, nil, err
	}
	entry := e.append(cmd.Actor, rec, models.LedgerEntry{Type: models.EntryProductRegistered}, rec.CreatedAt)
	e.publish(TopicChanged, Event{Kind: EventRegistered, ProductID: rec.ID, Record: &rec, Entry: &entry, Actor: cmd.Actor})
	return rec, &entry, nil
}

func (e *Engine) BulkRegister(ctx context.Context, cmd BulkRegisterCmd) (store.BulkResult, []models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return store.BulkResult{}, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	res, added, err := e.store.BulkCreate(cmd.Text)
	entries := make([]models.LedgerEntry, 0, len(added))
	for i := range added {
		rec := added[i]
		entry := e.append(cmd.Actor, rec, models.LedgerEntry{Type: models.EntryProductRegistered}, rec.CreatedAt)
		entries = append(entries, entry)
		e.publish(TopicChanged, Event{Kind: EventRegistered, ProductID: rec.ID, Record: &rec, Entry: &entry, Actor: cmd.Actor})
	}
	zap.L().Info("bulk register", zap.Int("added", res.Added), zap.Int("skipped", res.Skipped))
	return res, entries, err
}

func (e *Engine) Rent(ctx context.Context, cmd RentCmd) (models.Equipment, *models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.Equipment{}, nil, err
	}
	company := strings.TrimSpace(cmd.Company)

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.store.FindByID(cmd.ID)
	if err != nil {
		return models.Equipment{}, nil, err
	}
	if company == "" {
		return models.Equipment{}, nil, ErrCompanyRequired
	}
	if rec.IsRented {
		return models.Equipment{}, nil, fmt.Errorf("%w: %s", ErrAlreadyRented, rec.ID)
	}

	now := e.now()
	rec.RentalHistory = append(rec.RentalHistory, models.RentalCycle{
		Company:                company,
		RentalDate:             now,
		RemainingHoursAtRental: rec.RemainingHours,
		PhotosBefore:           append([]string(nil), cmd.Photos...),
	})
	rec.CurrentRentalIndex = models.IntPtr(len(rec.RentalHistory) - 1)
	rec.IsRented = true
	rec.RentalCompany = company
	rec.RentalDate = models.TimePtr(now)
	rec.LastUpdated = now

	if err := e.store.Put(rec); err != nil {
		return models.Equipment{}, nil, err
	}
	entry := e.append(cmd.Actor, rec, models.LedgerEntry{
		Type:    models.EntryRental,
		Company: company,
		Note:    strings.TrimSpace(cmd.Note),
	}, now)
	e.publish(TopicChanged, Event{Kind: EventRented, ProductID: rec.ID, Record: &rec, Entry: &entry, Actor: cmd.Actor})
	return rec, &entry, nil
}

func (e *Engine) Return(ctx context.Context, cmd ReturnCmd) (models.Equipment, *models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.Equipment{}, nil, err
	}
	reservedBy := strings.TrimSpace(cmd.ReservedBy)
	note := strings.TrimSpace(cmd.Note)

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.store.FindByID(cmd.ID)
	if err != nil {
		return models.Equipment{}, nil, err
	}
	if !rec.IsRented {
		return models.Equipment{}, nil, fmt.Errorf("%w: %s", ErrNotRented, rec.ID)
	}
	if err := validateStatus(cmd.Status, reservedBy); err != nil {
		return models.Equipment{}, nil, err
	}
	if cmd.RemainingHours < 0 {
		return models.Equipment{}, nil, ErrInvalidHours
	}

	now := e.now()
	before := rec.RemainingHours
	after := cmd.RemainingHours
	used := before - after
	if used < 0 {
		used = -used
	}
	company := rec.RentalCompany

	if cycle, ok := rec.OpenRental(); ok {
		cycle.ReturnDate = models.TimePtr(now)
		cycle.UsedHours = models.IntPtr(used)
		cycle.RemainingHoursAtReturn = models.IntPtr(after)
		cycle.Note = note
		cycle.PhotosAfter = append([]string(nil), cmd.Photos...)
		if company == "" {
			company = cycle.Company
		}
	}

	applyRepairRule(&rec, cmd.Status, note, now)
	rec.RemainingHours = after
	rec.IsRented = false
	rec.Status = cmd.Status
	rec.LastNote = note
	rec.LastCompany = company
	rec.LastUsedHours = models.IntPtr(used)
	rec.LastUpdated = now
	rec.RentalCompany = ""
	rec.RentalDate = nil
	rec.CurrentRentalIndex = nil
	applyReserved(&rec, reservedBy, now)

	if err := e.store.Put(rec); err != nil {
		return models.Equipment{}, nil, err
	}
	entry := e.append(cmd.Actor, rec, models.LedgerEntry{
		Type:              models.EntryReturn,
		Company:           company,
		Status:            cmd.Status,
		UsedHours:         models.IntPtr(used),
		PreviousRemaining: models.IntPtr(before),
		NewRemaining:      models.IntPtr(after),
		Note:              note,
	}, now)
	e.publish(TopicChanged, Event{Kind: EventReturned, ProductID: rec.ID, Record: &rec, Entry: &entry, Actor: cmd.Actor})
	return rec, &entry, nil
}

// ChangeStatus sets a new status on a unit that is not rented. A ledger entry
// is written only when the status actually changes; the note is saved either way.
func (e *Engine) ChangeStatus(ctx context.Context, cmd ChangeStatusCmd) (models.Equipment, *models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.Equipment{}, nil, err
	}
	reservedBy := strings.TrimSpace(cmd.ReservedBy)
	note := strings.TrimSpace(cmd.Note)

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.store.FindByID(cmd.ID)
	if err != nil {
		return models.Equipment{}, nil, err
	}
	if rec.IsRented {
		return models.Equipment{}, nil, fmt.Errorf("%w: %s", ErrInvalidState, rec.ID)
	}
	if err := validateStatus(cmd.Status, reservedBy); err != nil {
		return models.Equipment{}, nil, err
	}

	now := e.now()
	previous := rec.Status
	applyRepairRule(&rec, cmd.Status, note, now)
	rec.Status = cmd.Status
	rec.LastNote = note
	rec.LastUpdated = now
	applyReserved(&rec, reservedBy, now)

	if err := e.store.Put(rec); err != nil {
		return models.Equipment{}, nil, err
	}

	ev := Event{Kind: EventStatusChanged, ProductID: rec.ID, Record: &rec, Actor: cmd.Actor}
	var entry *models.LedgerEntry
	if previous != cmd.Status {
		appended := e.append(cmd.Actor, rec, models.LedgerEntry{
			Type:           models.EntryStatusChange,
			PreviousStatus: previous,
			NewStatus:      cmd.Status,
			Note:           note,
		}, now)
		entry = &appended
		ev.Entry = entry
	}
	e.publish(TopicChanged, ev)
	return rec, entry, nil
}

// Delete removes a unit. Unlike the store, a missing id is reported so callers can confirm existence.
func (e *Engine) Delete(ctx context.Context, cmd DeleteCmd) (models.Equipment, *models.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.Equipment{}, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.store.FindByID(cmd.ID)
	if err != nil {
		return models.Equipment{}, nil, err
	}
	if !e.store.Delete(rec.ID) {
		return models.Equipment{}, nil, fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	entry := e.append(cmd.Actor, rec, models.LedgerEntry{Type: models.EntryProductDeleted}, e.now())
	e.publish(TopicChanged, Event{Kind: EventDeleted, ProductID: rec.ID, Entry: &entry, Actor: cmd.Actor})
	return rec, &entry, nil
}

// DeleteAll wipes every unit. It refuses to run without explicit confirmation.
func (e *Engine) DeleteAll(ctx context.Context, cmd DeleteAllCmd) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !cmd.Confirm {
		return 0, ErrConfirmationRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.store.DeleteAll()
	zap.L().Warn("all equipment deleted", zap.Int("count", n), zap.String("actor", cmd.Actor.ID))
	e.publish(TopicCleared, Event{Kind: EventCleared, Count: n, Actor: cmd.Actor})
	return n, nil
}

func (e *Engine) append(actor Actor, rec models.Equipment, entry models.LedgerEntry, at time.Time) models.LedgerEntry {
	entry.ProductID = rec.ID
	entry.ProductName = rec.Name
	entry.ActorID = actor.ID
	entry.ActorName = actor.Name
	entry.Time = at
	return e.ledger.Append(entry)
}

func (e *Engine) publish(topic string, ev Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(topic, ev)
}

func validateStatus(s models.Status, reservedBy string) error {
	if s == "" {
		return ErrStatusRequired
	}
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	if s == models.StatusReserved && reservedBy == "" {
		return ErrReservedByRequired
	}
	return nil
}

// applyRepairRule opens a repair cycle when entering repairing and closes the
// most recent open one when leaving it.
func applyRepairRule(rec *models.Equipment, next models.Status, note string, at time.Time) {
	prev := rec.Status
	if prev == next {
		return
	}
	if prev == models.StatusRepairing {
		for i := len(rec.RepairHistory) - 1; i >= 0; i-- {
			if rec.RepairHistory[i].Open() {
				rec.RepairHistory[i].EndDate = models.TimePtr(at)
				rec.RepairHistory[i].EndNote = note
				break
			}
		}
	}
	if next == models.StatusRepairing {
		rec.RepairHistory = append(rec.RepairHistory, models.RepairCycle{StartDate: at, Note: note})
	}
}

// applyReserved keeps reservedBy/reservedDate only while the status is reserved.
func applyReserved(rec *models.Equipment, reservedBy string, at time.Time) {
	if rec.Status != models.StatusReserved {
		rec.ReservedBy = ""
		rec.ReservedDate = nil
		return
	}
	rec.ReservedBy = reservedBy
	rec.ReservedDate = models.TimePtr(at)
}
