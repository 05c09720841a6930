// Package localstore persists equipment and the ledger in a single bbolt file
// for deployments without a database server.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
)

var (
	equipmentBucket = []byte("equipment")
	ledgerBucket    = []byte("ledger")
)

type Store struct {
	db *bolt.DB
}

var _ persist.Persistence = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{equipmentBucket, ledgerBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) LoadAll(_ context.Context) ([]models.Equipment, error) {
	var out []models.Equipment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(equipmentBucket).ForEach(func(k, v []byte) error {
			var rec models.Equipment
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode equipment %s: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveAll(_ context.Context, records []models.Equipment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(equipmentBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(equipmentBucket)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := putJSON(b, []byte(rec.ID), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SaveOne(_ context.Context, record models.Equipment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(equipmentBucket), []byte(record.ID), record)
	})
}

func (s *Store) DeleteOne(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(equipmentBucket).Delete([]byte(id))
	})
}

func (s *Store) DeleteAll(ctx context.Context) error {
	return s.SaveAll(ctx, nil)
}

// AppendLedgerEntry stores entry keyed by its id. Ids are zero padded
// snowflakes, so key order is time order.
func (s *Store) AppendLedgerEntry(_ context.Context, entry models.LedgerEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(ledgerBucket), []byte(entry.ID), entry)
	})
}

// ListLedger walks the ledger bucket backwards from the Before cursor.
func (s *Store) ListLedger(_ context.Context, q models.LedgerQuery) (models.LedgerPage, error) {
	size := q.PageSize()
	var page models.LedgerPage
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(ledgerBucket).Cursor()
		var k, v []byte
		if q.Before == "" {
			k, v = c.Last()
		} else {
			k, v = c.Seek([]byte(q.Before))
			if k == nil {
				k, v = c.Last()
			}
			if k != nil && string(k) >= q.Before {
				k, v = c.Prev()
			}
		}
		for ; k != nil; k, v = c.Prev() {
			var e models.LedgerEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode ledger entry %s: %w", k, err)
			}
			if !persist.MatchLedger(q, e) {
				continue
			}
			if len(page.Entries) == size {
				page.NextBefore = page.Entries[size-1].ID
				return nil
			}
			page.Entries = append(page.Entries, e)
		}
		return nil
	})
	return page, err
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}
