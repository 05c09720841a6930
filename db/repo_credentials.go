package db

import (
	"context"
	"time"

	"Gin_postgres_redis_rent_tracker/models"
)

// WebAuthn 凭据

func (r *Repo) LoadUserCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	var cs []models.Credential
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&cs).Error
	return cs, err
}

func (r *Repo) CountCredentials(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Credential{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}

func (r *Repo) AddCredential(ctx context.Context, c *models.Credential) error {
	return r.DB.WithContext(ctx).Create(c).Error
}

// RecordCredentialUse 登录成功后写回签名计数、克隆告警和最近使用时间
func (r *Repo) RecordCredentialUse(ctx context.Context, credID []byte, signCount uint32, cloneWarn bool) error {
	return r.DB.WithContext(ctx).Model(&models.Credential{}).
		Where("credential_id = ?", credID).
		Updates(map[string]any{
			"sign_count":    signCount,
			"clone_warning": cloneWarn,
			"last_used_at":  time.Now().UTC(),
		}).Error
}

// FindUserByCredentialID 可发现凭据登录时按 credential id 反查用户
func (r *Repo) FindUserByCredentialID(ctx context.Context, credID []byte) (*models.User, error) {
	var u models.User
	err := r.DB.WithContext(ctx).
		Joins("JOIN "+models.CredentialTable+" c ON c.user_id = "+models.UserTable+".id").
		Where("c.credential_id = ?", credID).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}
