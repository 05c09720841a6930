package lifecycle

import (
	"context"
	"fmt"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/store"
)

// Actor identifies who issued a command; it is copied onto ledger entries.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Command is one user intent consumed by Engine.Dispatch.
type Command interface {
	isCommand()
}

type RegisterCmd struct {
	Actor      Actor
	ID         string
	Name       string
	Category   string
	TotalHours int
	Note       string
}

type BulkRegisterCmd struct {
	Actor Actor
	Text  string
}

type RentCmd struct {
	Actor   Actor
	ID      string
	Company string
	Note    string
	Photos  []string
}

type ReturnCmd struct {
	Actor          Actor
	ID             string
	RemainingHours int
	Status         models.Status
	Note           string
	ReservedBy     string
	Photos         []string
}

type ChangeStatusCmd struct {
	Actor      Actor
	ID         string
	Status     models.Status
	Note       string
	ReservedBy string
}

type DeleteCmd struct {
	Actor Actor
	ID    string
}

type DeleteAllCmd struct {
	Actor   Actor
	Confirm bool
}

func (RegisterCmd) isCommand()     {}
func (BulkRegisterCmd) isCommand() {}
func (RentCmd) isCommand()         {}
func (ReturnCmd) isCommand()       {}
func (ChangeStatusCmd) isCommand() {}
func (DeleteCmd) isCommand()       {}
func (DeleteAllCmd) isCommand()    {}

// Result carries whatever the dispatched command produced.
type Result struct {
	Record  *models.Equipment    `json:"record,omitempty"`
	Entries []models.LedgerEntry `json:"entries,omitempty"`
	Bulk    *store.BulkResult    `json:"bulk,omitempty"`
	Deleted int                  `json:"deleted,omitempty"`
}

// Dispatch routes cmd to the matching engine operation.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case RegisterCmd:
		rec, entry, err := e.Register(ctx, c)
		return single(rec, entry, err)
	case BulkRegisterCmd:
		res, entries, err := e.BulkRegister(ctx, c)
		return Result{Bulk: &res, Entries: entries}, err
	case RentCmd:
		rec, entry, err := e.Rent(ctx, c)
		return single(rec, entry, err)
	case ReturnCmd:
		rec, entry, err := e.Return(ctx, c)
		return single(rec, entry, err)
	case ChangeStatusCmd:
		rec, entry, err := e.ChangeStatus(ctx, c)
		return single(rec, entry, err)
	case DeleteCmd:
		rec, entry, err := e.Delete(ctx, c)
		return single(rec, entry, err)
	case DeleteAllCmd:
		n, err := e.DeleteAll(ctx, c)
		return Result{Deleted: n}, err
	}
	return Result{}, fmt.Errorf("%w: unsupported command %T", ErrValidation, cmd)
}

func single(rec models.Equipment, entry *models.LedgerEntry, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	res := Result{Record: &rec}
	if entry != nil {
		res.Entries = []models.LedgerEntry{*entry}
	}
	return res, nil
}
