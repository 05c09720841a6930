// Package persist defines the durable storage contract shared by the SQL and
// bbolt backends, and the asynchronous saver the store and ledger write through.
package persist

import (
	"context"
	"fmt"

	"Gin_postgres_redis_rent_tracker/models"
)

// Persistence is the save/load contract over local or remote backing storage.
// Each equipment record is an individually addressable document keyed by id.
type Persistence interface {
	LoadAll(ctx context.Context) ([]models.Equipment, error)
	SaveAll(ctx context.Context, records []models.Equipment) error
	SaveOne(ctx context.Context, record models.Equipment) error
	DeleteOne(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error

	AppendLedgerEntry(ctx context.Context, entry models.LedgerEntry) error
	ListLedger(ctx context.Context, q models.LedgerQuery) (models.LedgerPage, error)
}

// StorageError reports a failed background write. The in-memory mutation that
// triggered it is not rolled back.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage failure: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
