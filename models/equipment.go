// models/equipment.go
package models

import "time"

const EquipmentTable = "rt_equipment"

type Status string

const (
	StatusUnchecked        Status = "unchecked"
	StatusRepairPending    Status = "repair-pending"
	StatusRepairing        Status = "repairing"
	StatusRepairDone       Status = "repair-done"
	StatusCleaningPending  Status = "cleaning-pending"
	StatusCleaningDone     Status = "cleaning-done"
	StatusReadyForShipment Status = "ready-for-shipment"
	StatusReserved         Status = "reserved"
)

// Statuses lists the selectable statuses in workflow order.
var Statuses = []Status{
	StatusUnchecked,
	StatusRepairPending,
	StatusRepairing,
	StatusRepairDone,
	StatusCleaningPending,
	StatusCleaningDone,
	StatusReadyForShipment,
	StatusReserved,
}

var statusProgress = map[Status]int{
	StatusUnchecked:        0,
	StatusRepairPending:    0,
	StatusRepairing:        30,
	StatusRepairDone:       50,
	StatusCleaningPending:  70,
	StatusCleaningDone:     90,
	StatusReadyForShipment: 100,
	StatusReserved:         100,
}

func (s Status) Valid() bool {
	_, ok := statusProgress[s]
	return ok
}

// ProgressOf maps a status to its display completion percent. Unknown statuses count as 0.
func ProgressOf(s Status) int { return statusProgress[s] }

type Equipment struct {
	ID           string `gorm:"size:64;primaryKey" json:"id"`
	SerialNumber string `gorm:"size:32;index" json:"serialNumber,omitempty"` // unique, enforced by the store
	Name         string `gorm:"size:200;not null" json:"name"`
	Category     string `gorm:"size:100" json:"category"`
	Note         string `gorm:"type:text" json:"note"`

	TotalHours     int `gorm:"not null;default:0" json:"totalHours"`
	RemainingHours int `gorm:"not null;default:0" json:"remainingHours"`

	Status Status `gorm:"size:32;not null;default:'unchecked';index" json:"status"`

	IsRented      bool       `gorm:"not null;default:false;index" json:"isRented"`
	RentalCompany string     `gorm:"size:200" json:"rentalCompany,omitempty"`
	RentalDate    *time.Time `json:"rentalDate,omitempty"`

	RentalHistory      []RentalCycle `gorm:"serializer:json;type:text" json:"rentalHistory"`
	CurrentRentalIndex *int          `json:"currentRentalIndex"`
	RepairHistory      []RepairCycle `gorm:"serializer:json;type:text" json:"repairHistory"`

	// most recent transaction caches, not sources of truth
	LastNote      string    `gorm:"type:text" json:"lastNote,omitempty"`
	LastCompany   string    `gorm:"size:200" json:"lastCompany,omitempty"`
	LastUsedHours *int      `json:"lastUsedHours,omitempty"`
	LastUpdated   time.Time `json:"lastUpdated"`

	ReservedBy   string     `gorm:"size:200" json:"reservedBy,omitempty"`
	ReservedDate *time.Time `json:"reservedDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

func (Equipment) TableName() string { return EquipmentTable }

type RentalCycle struct {
	Company                string     `json:"company"`
	RentalDate             time.Time  `json:"rentalDate"`
	RemainingHoursAtRental int        `json:"remainingHoursAtRental"`
	PhotosBefore           []string   `json:"photosBefore,omitempty"`
	ReturnDate             *time.Time `json:"returnDate,omitempty"`
	UsedHours              *int       `json:"usedHours,omitempty"`
	RemainingHoursAtReturn *int       `json:"remainingHoursAtReturn,omitempty"`
	Note                   string     `json:"note,omitempty"`
	PhotosAfter            []string   `json:"photosAfter,omitempty"`
}

func (c RentalCycle) Open() bool { return c.ReturnDate == nil }

type RepairCycle struct {
	StartDate time.Time  `json:"startDate"`
	Note      string     `json:"note,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	EndNote   string     `json:"endNote,omitempty"`
}

func (c RepairCycle) Open() bool { return c.EndDate == nil }

// Clone returns a deep copy so callers can mutate it without touching store state.
func (e Equipment) Clone() Equipment {
	out := e
	out.RentalDate = cloneTime(e.RentalDate)
	out.ReservedDate = cloneTime(e.ReservedDate)
	out.CurrentRentalIndex = cloneInt(e.CurrentRentalIndex)
	out.LastUsedHours = cloneInt(e.LastUsedHours)
	if e.RentalHistory != nil {
		out.RentalHistory = make([]RentalCycle, len(e.RentalHistory))
		for i, c := range e.RentalHistory {
			c.PhotosBefore = append([]string(nil), c.PhotosBefore...)
			c.PhotosAfter = append([]string(nil), c.PhotosAfter...)
			c.ReturnDate = cloneTime(c.ReturnDate)
			c.UsedHours = cloneInt(c.UsedHours)
			c.RemainingHoursAtReturn = cloneInt(c.RemainingHoursAtReturn)
			out.RentalHistory[i] = c
		}
	}
	if e.RepairHistory != nil {
		out.RepairHistory = make([]RepairCycle, len(e.RepairHistory))
		for i, c := range e.RepairHistory {
			c.EndDate = cloneTime(c.EndDate)
			out.RepairHistory[i] = c
		}
	}
	return out
}

// OpenRental returns the in-progress rental cycle, if any.
func (e *Equipment) OpenRental() (*RentalCycle, bool) {
	if e.CurrentRentalIndex != nil {
		i := *e.CurrentRentalIndex
		if i >= 0 && i < len(e.RentalHistory) && e.RentalHistory[i].Open() {
			return &e.RentalHistory[i], true
		}
	}
	for i := len(e.RentalHistory) - 1; i >= 0; i-- {
		if e.RentalHistory[i].Open() {
			return &e.RentalHistory[i], true
		}
	}
	return nil, false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func IntPtr(v int) *int { return &v }

func TimePtr(t time.Time) *time.Time { return &t }
