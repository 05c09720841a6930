// db/repo_users_admin.go
package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"Gin_postgres_redis_rent_tracker/models"
)

func (r *Repo) SetUserRole(ctx context.Context, userID, role string) error {
	switch role {
	case models.RoleUser, models.RoleAdmin, models.RoleSuperAdmin:
	default:
		return fmt.Errorf("unknown role %q", role)
	}
	return r.updateUser(ctx, userID, "role", role)
}

// SetUserApproved 审批或撤销；未审批用户不能操作设备
func (r *Repo) SetUserApproved(ctx context.Context, userID string, approved bool) error {
	return r.updateUser(ctx, userID, "approved", approved)
}

func (r *Repo) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("role IN ?", []string{models.RoleAdmin, models.RoleSuperAdmin}).
		Count(&n).Error
	return n, err
}

func (r *Repo) updateUser(ctx context.Context, userID, column string, value any) error {
	res := r.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
