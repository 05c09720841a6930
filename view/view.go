// Package view derives dashboard lists, counts and progress from a record set.
// Every function is pure; callers pass a snapshot from the store.
package view

import (
	"sort"
	"strings"

	"Gin_postgres_redis_rent_tracker/models"
)

const (
	FilterAll    = "all"
	FilterRented = "rented"
)

type Query struct {
	Filter string `form:"filter" json:"filter"`
	Search string `form:"q" json:"search"`
}

// ValidFilter reports whether f is "all", "rented", empty or a known status.
func ValidFilter(f string) bool {
	return f == "" || f == FilterAll || f == FilterRented || models.Status(f).Valid()
}

// Apply returns the records matching q sorted by id. A non-empty search runs
// over the whole set and ignores the filter.
func Apply(records []models.Equipment, q Query) []models.Equipment {
	key := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]models.Equipment, 0, len(records))
	for _, r := range records {
		if key != "" {
			if matchesSearch(r, key) {
				out = append(out, r)
			}
			continue
		}
		if matchesFilter(r, q.Filter) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matchesFilter(r models.Equipment, filter string) bool {
	switch filter {
	case "", FilterAll:
		return true
	case FilterRented:
		return r.IsRented
	default:
		return !r.IsRented && string(r.Status) == filter
	}
}

func matchesSearch(r models.Equipment, key string) bool {
	for _, field := range []string{r.ID, r.Name, r.RentalCompany, r.LastCompany, r.ReservedBy} {
		if field != "" && strings.Contains(strings.ToLower(field), key) {
			return true
		}
	}
	return false
}

// Counts tallies records per status. Rented units count under "rented" only.
func Counts(records []models.Equipment) map[string]int {
	out := make(map[string]int, len(models.Statuses)+1)
	for _, s := range models.Statuses {
		out[string(s)] = 0
	}
	out[FilterRented] = 0
	for _, r := range records {
		if r.IsRented {
			out[FilterRented]++
			continue
		}
		out[string(r.Status)]++
	}
	return out
}

// AggregateProgress is the mean per-record progress rounded to the nearest
// integer, 0 for an empty set.
func AggregateProgress(records []models.Equipment) int {
	if len(records) == 0 {
		return 0
	}
	sum := 0
	for _, r := range records {
		sum += models.ProgressOf(r.Status)
	}
	n := len(records)
	return (2*sum + n) / (2 * n)
}

type Dashboard struct {
	Total    int                `json:"total"`
	Rented   int                `json:"rented"`
	Progress int                `json:"progress"`
	Counts   map[string]int     `json:"counts"`
	Filter   string             `json:"filter"`
	Search   string             `json:"search,omitempty"`
	Items    []models.Equipment `json:"items"`
}

func Build(records []models.Equipment, q Query) Dashboard {
	counts := Counts(records)
	filter := q.Filter
	if filter == "" {
		filter = FilterAll
	}
	return Dashboard{
		Total:    len(records),
		Rented:   counts[FilterRented],
		Progress: AggregateProgress(records),
		Counts:   counts,
		Filter:   filter,
		Search:   strings.TrimSpace(q.Search),
		Items:    Apply(records, q),
	}
}
