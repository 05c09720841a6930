package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"Gin_postgres_redis_rent_tracker/app"
	"Gin_postgres_redis_rent_tracker/ledger"
	"Gin_postgres_redis_rent_tracker/models"
)

type LedgerController struct {
	lg *ledger.Ledger
}

func NewLedgerController(lg *ledger.Ledger) *LedgerController { return &LedgerController{lg: lg} }

// GET /api/ledger/recent?n=20  (内存工作列表，最多 100 条)
func (lc *LedgerController) Recent(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("n", "0"))
	c.JSON(http.StatusOK, app.H{"entries": lc.lg.Recent(n)})
}

type ledgerQueryReq struct {
	ActorID   string `form:"actorId"`
	Type      string `form:"type"`
	ProductID string `form:"productId"`
	Before    string `form:"before"`
	Limit     int    `form:"limit"`
}

// GET /api/ledger?actorId=&type=&productId=&before=&limit=
func (lc *LedgerController) List(c *gin.Context) {
	var in ledgerQueryReq
	if err := c.ShouldBindQuery(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	q := models.LedgerQuery{
		ActorID:   in.ActorID,
		Type:      models.EntryType(in.Type),
		ProductID: in.ProductID,
		Before:    in.Before,
		Limit:     in.Limit,
	}
	if q.Type != "" && !q.Type.Valid() {
		badRequest(c, "unknown entry type "+in.Type)
		return
	}
	page, err := lc.lg.Query(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	if page.Entries == nil {
		page.Entries = []models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, page)
}
