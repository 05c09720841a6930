package scan

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/store"
)

type brokenFinder struct{}

func (brokenFinder) FindByID(string) (models.Equipment, error) {
	return models.Equipment{}, errors.New("boom")
}

func (brokenFinder) FindBySerial(string) (models.Equipment, error) {
	return models.Equipment{}, nil
}

func TestDecode(t *testing.T) {
	id, err := Decode("  P001\n")
	require.NoError(t, err)
	assert.Equal(t, "P001", id)

	_, err = Decode(" \t ")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestResolve(t *testing.T) {
	gen := store.NewSerialGeneratorFrom(func() string { return "ABCDEFGH" })
	st := store.New(store.WithSerials(gen))
	_, err := st.Create(models.Equipment{ID: "P001", Name: "Gen"})
	require.NoError(t, err)

	rec, err := Resolve(st, "P001")
	require.NoError(t, err)
	assert.Equal(t, "P001", rec.ID)

	rec, err = Resolve(st, "SN-ABCDEFGH")
	require.NoError(t, err)
	assert.Equal(t, "P001", rec.ID)

	_, err = Resolve(st, "P404")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = Resolve(st, "")
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = Resolve(brokenFinder{}, "P001")
	assert.EqualError(t, err, "boom")
}

func TestPanelFor(t *testing.T) {
	idle := PanelFor(models.Equipment{ID: "P001", RemainingHours: 40, Status: models.StatusCleaningDone})
	assert.Equal(t, Actions{Rent: true, ChangeStatus: true}, idle.Actions)
	assert.Nil(t, idle.Rental)
	assert.Equal(t, 40, idle.Remaining)
	assert.Equal(t, 90, idle.Progress)

	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rented := PanelFor(models.Equipment{
		ID: "P002", IsRented: true, RentalCompany: "ACME", RentalDate: &since, RemainingHours: 30,
		RentalHistory:      []models.RentalCycle{{Company: "ACME", RentalDate: since, RemainingHoursAtRental: 35}},
		CurrentRentalIndex: models.IntPtr(0),
	})
	assert.Equal(t, Actions{Return: true}, rented.Actions)
	require.NotNil(t, rented.Rental)
	assert.Equal(t, "ACME", rented.Rental.Company)
	assert.Equal(t, since, *rented.Rental.Since)
	assert.Equal(t, 35, rented.Rental.RemainingHoursAtRental)
}
