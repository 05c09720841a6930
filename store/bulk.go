package store

import (
	"strconv"
	"strings"
)

const DefaultCategory = "other"

// BulkRow is one parsed line of the bulk register text: id, name, category, totalHours.
type BulkRow struct {
	ID         string
	Name       string
	Category   string
	TotalHours int
}

type BulkResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// ParseBulk splits newline separated, comma delimited rows. Blank lines are
// ignored; rows with fewer than four fields, an empty id or an empty name are
// counted as invalid, matching single registration.
func ParseBulk(text string) (rows []BulkRow, invalid int) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			invalid++
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] == "" || parts[1] == "" {
			invalid++
			continue
		}
		category := parts[2]
		if category == "" {
			category = DefaultCategory
		}
		rows = append(rows, BulkRow{
			ID:         parts[0],
			Name:       parts[1],
			Category:   category,
			TotalHours: ParseHours(parts[3]),
		})
	}
	return rows, invalid
}

// ParseHours reads the leading integer of s ("120h" -> 120). Anything
// unparsable or negative yields 0.
func ParseHours(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
