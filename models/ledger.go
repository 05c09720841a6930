// models/ledger.go
package models

import "time"

const LedgerTable = "rt_ledger"

// LedgerCap is how many entries the in-memory working list keeps.
const LedgerCap = 100

type EntryType string

const (
	EntryRental            EntryType = "rental"
	EntryReturn            EntryType = "return"
	EntryStatusChange      EntryType = "status-change"
	EntryProductRegistered EntryType = "product-registered"
	EntryProductDeleted    EntryType = "product-deleted"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryRental, EntryReturn, EntryStatusChange, EntryProductRegistered, EntryProductDeleted:
		return true
	}
	return false
}

// LedgerEntry is an immutable record of one state-changing action.
type LedgerEntry struct {
	ID          string    `gorm:"size:32;primaryKey" json:"id"` // snowflake, sorts by time
	Type        EntryType `gorm:"size:32;index;not null" json:"type"`
	ProductID   string    `gorm:"size:64;index;not null" json:"productId"`
	ProductName string    `gorm:"size:200" json:"productName"`
	Time        time.Time `gorm:"index;not null" json:"time"`
	ActorID     string    `gorm:"size:64;index" json:"actorId,omitempty"`
	ActorName   string    `gorm:"size:255" json:"actorName,omitempty"`

	Company           string `gorm:"size:200" json:"company,omitempty"`
	PreviousStatus    Status `gorm:"size:32" json:"previousStatus,omitempty"`
	NewStatus         Status `gorm:"size:32" json:"newStatus,omitempty"`
	Status            Status `gorm:"size:32" json:"status,omitempty"`
	UsedHours         *int   `json:"usedHours,omitempty"`
	PreviousRemaining *int   `json:"previousRemaining,omitempty"`
	NewRemaining      *int   `json:"newRemaining,omitempty"`
	Note              string `gorm:"type:text" json:"note,omitempty"`
}

func (LedgerEntry) TableName() string { return LedgerTable }

// LedgerQuery selects a descending-time page of durable ledger entries.
// Before is an exclusive cursor on entry id; empty starts at the newest entry.
type LedgerQuery struct {
	ActorID   string
	Type      EntryType
	ProductID string
	Before    string
	Limit     int
}

func (q LedgerQuery) PageSize() int {
	switch {
	case q.Limit <= 0:
		return 50
	case q.Limit > 200:
		return 200
	}
	return q.Limit
}

type LedgerPage struct {
	Entries    []LedgerEntry `json:"entries"`
	NextBefore string        `json:"nextBefore,omitempty"`
}
