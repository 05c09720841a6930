package db

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm/clause"

	"Gin_postgres_redis_rent_tracker/models"
)

// AppendLedgerEntry is idempotent on entry id so a retried write does not duplicate.
func (r *Repo) AppendLedgerEntry(ctx context.Context, entry models.LedgerEntry) error {
	return r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error
}

// ListLedger returns one page in descending id (= time) order.
func (r *Repo) ListLedger(ctx context.Context, q models.LedgerQuery) (models.LedgerPage, error) {
	size := q.PageSize()
	tx := r.DB.WithContext(ctx).Model(&models.LedgerEntry{})
	if q.ActorID != "" {
		tx = tx.Where("actor_id = ?", q.ActorID)
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.ProductID != "" {
		tx = tx.Where("product_id = ?", q.ProductID)
	}
	if q.Before != "" {
		tx = tx.Where("id < ?", q.Before)
	}

	var rows []models.LedgerEntry
	if err := tx.Order("id DESC").Limit(size + 1).Find(&rows).Error; err != nil {
		return models.LedgerPage{}, err
	}
	page := models.LedgerPage{Entries: rows}
	if len(rows) > size {
		page.Entries = rows[:size]
		page.NextBefore = rows[size-1].ID
	}
	if page.Entries == nil {
		page.Entries = []models.LedgerEntry{}
	}
	return page, nil
}

// ActorActivity summarises what one user did, from the durable ledger.
type ActorActivity struct {
	ActorID       string     `json:"actorId"`
	Username      *string    `json:"username,omitempty"`
	DisplayName   *string    `json:"displayName,omitempty"`
	Rentals       int64      `json:"rentals"`
	Returns       int64      `json:"returns"`
	StatusChanges int64      `json:"statusChanges"`
	Total         int64      `json:"total"`
	LastEntryID   string     `json:"lastEntryId"`
	LastActivity  *time.Time `json:"lastActivity,omitempty" gorm:"-"`
}

type ActivityQuery struct {
	Q     string // 模糊搜索：用户名/显示名
	Since *time.Time
	Page  int
	Size  int
}

type PagedActivity struct {
	Total int64           `json:"total"`
	Items []ActorActivity `json:"items"`
}

// ListActorActivity groups ledger entries by actor, newest activity first.
func (r *Repo) ListActorActivity(ctx context.Context, q ActivityQuery) (*PagedActivity, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Size <= 0 || q.Size > 200 {
		q.Size = 20
	}
	offset := (q.Page - 1) * q.Size

	db := r.DB.WithContext(ctx)
	qry := db.
		Table(models.LedgerTable+" l").
		Select(`
			l.actor_id,
			u.username,
			u.display_name,
			COUNT(CASE WHEN l.type = ? THEN 1 END) AS rentals,
			COUNT(CASE WHEN l.type = ? THEN 1 END) AS returns,
			COUNT(CASE WHEN l.type = ? THEN 1 END) AS status_changes,
			COUNT(*) AS total,
			MAX(l.id) AS last_entry_id
		`, models.EntryRental, models.EntryReturn, models.EntryStatusChange).
		Joins("LEFT JOIN " + models.UserTable + " u ON u.id = l.actor_id").
		Where("l.actor_id <> ''")

	if s := strings.TrimSpace(q.Q); s != "" {
		pat := "%" + strings.ToLower(s) + "%"
		qry = qry.Where("LOWER(u.username) LIKE ? OR LOWER(u.display_name) LIKE ?", pat, pat)
	}
	if q.Since != nil {
		qry = qry.Where("l.time >= ?", *q.Since)
	}
	qry = qry.Group("l.actor_id, u.username, u.display_name")

	var total int64
	if err := db.Table("(?) AS g", qry).Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []ActorActivity
	if err := qry.Order("last_entry_id DESC").Offset(offset).Limit(q.Size).Scan(&rows).Error; err != nil {
		return nil, err
	}
	// 流水 ID 是 snowflake，自带时间戳
	for i := range rows {
		if id, err := snowflake.ParseString(strings.TrimLeft(rows[i].LastEntryID, "0")); err == nil {
			t := time.UnixMilli(id.Time()).UTC()
			rows[i].LastActivity = &t
		}
	}
	return &PagedActivity{Total: total, Items: rows}, nil
}
