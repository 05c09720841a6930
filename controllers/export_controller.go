package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocarina/gocsv"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/view"
)

// inventoryRow 一行导出记录，用于打印二维码清单或盘点
type inventoryRow struct {
	ID             string `csv:"id"`
	SerialNumber   string `csv:"serial_number"`
	Name           string `csv:"name"`
	Category       string `csv:"category"`
	Status         string `csv:"status"`
	Progress       int    `csv:"progress"`
	TotalHours     int    `csv:"total_hours"`
	RemainingHours int    `csv:"remaining_hours"`
	IsRented       bool   `csv:"is_rented"`
	RentalCompany  string `csv:"rental_company"`
	RentalDate     string `csv:"rental_date"`
	LastCompany    string `csv:"last_company"`
	ReservedBy     string `csv:"reserved_by"`
	LastUpdated    string `csv:"last_updated"`
	Note           string `csv:"note"`
}

func toInventoryRows(records []models.Equipment) []inventoryRow {
	rows := make([]inventoryRow, 0, len(records))
	for _, r := range records {
		row := inventoryRow{
			ID:             r.ID,
			SerialNumber:   r.SerialNumber,
			Name:           r.Name,
			Category:       r.Category,
			Status:         string(r.Status),
			Progress:       models.ProgressOf(r.Status),
			TotalHours:     r.TotalHours,
			RemainingHours: r.RemainingHours,
			IsRented:       r.IsRented,
			RentalCompany:  r.RentalCompany,
			LastCompany:    r.LastCompany,
			ReservedBy:     r.ReservedBy,
			Note:           r.Note,
		}
		if r.RentalDate != nil {
			row.RentalDate = r.RentalDate.Format(time.RFC3339)
		}
		if !r.LastUpdated.IsZero() {
			row.LastUpdated = r.LastUpdated.Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	return rows
}

// GET /api/equipment/export.csv?filter=&q=
func (ec *EquipmentController) ExportCSV(c *gin.Context) {
	q, ok := bindViewQuery(c)
	if !ok {
		return
	}
	rows := toInventoryRows(view.Apply(ec.t.Store.All(), q))

	name := fmt.Sprintf("equipment-%s.csv", time.Now().Format("20060102"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Status(http.StatusOK)
	if err := gocsv.Marshal(rows, c.Writer); err != nil {
		_ = c.Error(err)
	}
}
