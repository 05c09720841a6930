package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/persist"
)

var _ persist.Persistence = (*Repo)(nil)

const saveBatchSize = 200

func (r *Repo) LoadAll(ctx context.Context) ([]models.Equipment, error) {
	var out []models.Equipment
	err := r.DB.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// SaveAll replaces the whole equipment table with records in one transaction.
func (r *Repo) SaveAll(ctx context.Context, records []models.Equipment) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Equipment{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, saveBatchSize).Error
	})
}

// SaveOne upserts a single document.
func (r *Repo) SaveOne(ctx context.Context, record models.Equipment) error {
	return r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&record).Error
}

func (r *Repo) DeleteOne(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.Equipment{}).Error
}

func (r *Repo) DeleteAll(ctx context.Context) error {
	return r.DB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Equipment{}).Error
}
