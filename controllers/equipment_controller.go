// controllers/equipment_controller.go
package controllers

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"Gin_postgres_redis_rent_tracker/app"
	"Gin_postgres_redis_rent_tracker/lifecycle"
	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/scan"
	"Gin_postgres_redis_rent_tracker/upload"
	"Gin_postgres_redis_rent_tracker/view"
)

const maxBulkBody = 1 << 20

type EquipmentController struct {
	t *app.Tracker
}

func NewEquipmentController(t *app.Tracker) *EquipmentController {
	return &EquipmentController{t: t}
}

// 同一设备的借出/归还/改状态不允许并发提交
func (ec *EquipmentController) locked(c *gin.Context, id string, fn func(ctx context.Context) error) {
	release, err := ec.t.Locks.Acquire(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	defer release()
	if err := fn(c.Request.Context()); err != nil {
		respondError(c, err)
	}
}

// GET /api/equipment?filter=&q=
func (ec *EquipmentController) List(c *gin.Context) {
	q, ok := bindViewQuery(c)
	if !ok {
		return
	}
	items := view.Apply(ec.t.Store.All(), q)
	c.JSON(http.StatusOK, app.H{"total": len(items), "items": items})
}

// GET /api/dashboard?filter=&q=
func (ec *EquipmentController) Dashboard(c *gin.Context) {
	q, ok := bindViewQuery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, view.Build(ec.t.Store.All(), q))
}

func bindViewQuery(c *gin.Context) (view.Query, bool) {
	var q view.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return q, false
	}
	if !view.ValidFilter(q.Filter) {
		badRequest(c, "unknown filter "+q.Filter)
		return q, false
	}
	return q, true
}

// GET /api/equipment/next-id
func (ec *EquipmentController) NextID(c *gin.Context) {
	c.JSON(http.StatusOK, app.H{"id": ec.t.Store.NextID()})
}

// GET /api/equipment/:id
func (ec *EquipmentController) Get(c *gin.Context) {
	rec, err := ec.t.Store.FindByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"record": rec, "progress": models.ProgressOf(rec.Status)})
}

// GET /api/equipment/:id/rentals
func (ec *EquipmentController) Rentals(c *gin.Context) {
	rec, err := ec.t.Store.FindByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	rentals := rec.RentalHistory
	if rentals == nil {
		rentals = []models.RentalCycle{}
	}
	repairs := rec.RepairHistory
	if repairs == nil {
		repairs = []models.RepairCycle{}
	}
	c.JSON(http.StatusOK, app.H{
		"id":                 rec.ID,
		"name":               rec.Name,
		"rentalHistory":      rentals,
		"currentRentalIndex": rec.CurrentRentalIndex,
		"repairHistory":      repairs,
	})
}

type createReq struct {
	ID         string `json:"id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Category   string `json:"category"`
	TotalHours int    `json:"totalHours" binding:"min=0"`
	Note       string `json:"note"`
}

// POST /api/equipment
func (ec *EquipmentController) Create(c *gin.Context) {
	var in createReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	rec, entry, err := ec.t.Engine.Register(c.Request.Context(), lifecycle.RegisterCmd{
		Actor:      actorFrom(c),
		ID:         in.ID,
		Name:       in.Name,
		Category:   in.Category,
		TotalHours: in.TotalHours,
		Note:       in.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app.H{"record": rec, "entry": entry})
}

// POST /api/equipment/bulk
// JSON {"text": "..."} 或 text/plain，每行 "id, name, category, totalHours"
func (ec *EquipmentController) Bulk(c *gin.Context) {
	var text string
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var in struct {
			Text string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequest(c, err.Error())
			return
		}
		text = in.Text
	} else {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBulkBody))
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		text = string(raw)
	}

	res, entries, err := ec.t.Engine.BulkRegister(c.Request.Context(), lifecycle.BulkRegisterCmd{Actor: actorFrom(c), Text: text})
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, app.H{"added": res.Added, "skipped": res.Skipped, "entries": entries})
}

type rentReq struct {
	Company string   `json:"company"`
	Note    string   `json:"note"`
	Photos  []string `json:"photos"`
}

// POST /api/equipment/:id/rent
func (ec *EquipmentController) Rent(c *gin.Context) {
	var in rentReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	id := c.Param("id")
	ec.locked(c, id, func(ctx context.Context) error {
		rec, entry, err := ec.t.Engine.Rent(ctx, lifecycle.RentCmd{
			Actor: actorFrom(c), ID: id, Company: in.Company, Note: in.Note, Photos: in.Photos,
		})
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, app.H{"record": rec, "entry": entry})
		return nil
	})
}

type returnReq struct {
	RemainingHours *int          `json:"remainingHours" binding:"required"`
	Status         models.Status `json:"status"`
	Note           string        `json:"note"`
	ReservedBy     string        `json:"reservedBy"`
	Photos         []string      `json:"photos"`
}

// POST /api/equipment/:id/return
func (ec *EquipmentController) Return(c *gin.Context) {
	var in returnReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	id := c.Param("id")
	ec.locked(c, id, func(ctx context.Context) error {
		rec, entry, err := ec.t.Engine.Return(ctx, lifecycle.ReturnCmd{
			Actor:          actorFrom(c),
			ID:             id,
			RemainingHours: *in.RemainingHours,
			Status:         in.Status,
			Note:           in.Note,
			ReservedBy:     in.ReservedBy,
			Photos:         in.Photos,
		})
		if err != nil {
			return err
		}
		c.JSON(http.StatusOK, app.H{"record": rec, "entry": entry})
		return nil
	})
}

type statusReq struct {
	Status     models.Status `json:"status"`
	Note       string        `json:"note"`
	ReservedBy string        `json:"reservedBy"`
}

// POST /api/equipment/:id/status
func (ec *EquipmentController) ChangeStatus(c *gin.Context) {
	var in statusReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	id := c.Param("id")
	ec.locked(c, id, func(ctx context.Context) error {
		rec, entry, err := ec.t.Engine.ChangeStatus(ctx, lifecycle.ChangeStatusCmd{
			Actor: actorFrom(c), ID: id, Status: in.Status, Note: in.Note, ReservedBy: in.ReservedBy,
		})
		if err != nil {
			return err
		}
		// 状态未变时 entry 为 nil
		c.JSON(http.StatusOK, app.H{"record": rec, "entry": entry})
		return nil
	})
}

// POST /api/equipment/:id/photos?kind=rental|return  (multipart, 字段名 photos)
func (ec *EquipmentController) Photos(c *gin.Context) {
	id := c.Param("id")
	if !ec.t.Store.Exists(id) {
		respondError(c, lifecycle.ErrNotFound)
		return
	}
	kind := upload.Kind(c.DefaultQuery("kind", string(upload.KindRental)))
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form required")
		return
	}
	refs, err := ec.t.Uploads.SaveAll(id, kind, form.File["photos"])
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app.H{"photos": refs})
}

// DELETE /api/equipment/:id
func (ec *EquipmentController) Delete(c *gin.Context) {
	rec, entry, err := ec.t.Engine.Delete(c.Request.Context(), lifecycle.DeleteCmd{Actor: actorFrom(c), ID: c.Param("id")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "id": rec.ID, "entry": entry})
}

// DELETE /api/equipment?confirm=true
func (ec *EquipmentController) DeleteAll(c *gin.Context) {
	n, err := ec.t.Engine.DeleteAll(c.Request.Context(), lifecycle.DeleteAllCmd{
		Actor:   actorFrom(c),
		Confirm: c.Query("confirm") == "true",
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "deleted": n})
}

// POST /api/scan {"payload": "<二维码内容>"}
func (ec *EquipmentController) Scan(c *gin.Context) {
	var in struct {
		Payload string `json:"payload"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	rec, err := scan.Resolve(ec.t.Store, in.Payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scan.PanelFor(rec))
}
