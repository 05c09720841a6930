// Package scan turns decoded QR text into an equipment lookup and the set of
// actions the operator may take on that unit.
package scan

import (
	"errors"
	"strings"
	"time"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/store"
)

var ErrEmptyPayload = errors.New("empty scan payload")

// Finder is the lookup surface of the equipment store.
type Finder interface {
	FindByID(id string) (models.Equipment, error)
	FindBySerial(serial string) (models.Equipment, error)
}

// Decode extracts the equipment id from a QR payload. The payload is the bare id.
func Decode(payload string) (string, error) {
	id := strings.TrimSpace(payload)
	if id == "" {
		return "", ErrEmptyPayload
	}
	return id, nil
}

// Resolve finds the unit named by payload, trying the id first and the serial number second.
func Resolve(f Finder, payload string) (models.Equipment, error) {
	key, err := Decode(payload)
	if err != nil {
		return models.Equipment{}, err
	}
	rec, err := f.FindByID(key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Equipment{}, err
	}
	return f.FindBySerial(key)
}

type Actions struct {
	Rent         bool `json:"rent"`
	Return       bool `json:"return"`
	ChangeStatus bool `json:"changeStatus"`
}

type RentalInfo struct {
	Company                string     `json:"company"`
	Since                  *time.Time `json:"since,omitempty"`
	RemainingHoursAtRental int        `json:"remainingHoursAtRental"`
}

// Panel is what the operator sees after a scan.
type Panel struct {
	Record    models.Equipment `json:"record"`
	Actions   Actions          `json:"actions"`
	Rental    *RentalInfo      `json:"rental,omitempty"`
	Remaining int              `json:"remainingHours"`
	Progress  int              `json:"progress"`
}

func PanelFor(rec models.Equipment) Panel {
	p := Panel{
		Record:    rec,
		Remaining: rec.RemainingHours,
		Progress:  models.ProgressOf(rec.Status),
		Actions: Actions{
			Rent:         !rec.IsRented,
			Return:       rec.IsRented,
			ChangeStatus: !rec.IsRented,
		},
	}
	if rec.IsRented {
		info := &RentalInfo{Company: rec.RentalCompany, RemainingHoursAtRental: rec.RemainingHours}
		if rec.RentalDate != nil {
			since := *rec.RentalDate
			info.Since = &since
		}
		if cycle, ok := rec.OpenRental(); ok {
			info.RemainingHoursAtRental = cycle.RemainingHoursAtRental
		}
		p.Rental = info
	}
	return p
}
