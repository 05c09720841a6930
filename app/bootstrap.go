// app/bootstrap.go
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/db"
	"Gin_postgres_redis_rent_tracker/models"
)

// BootstrapFirstAdmin 没有任何管理员时，为 BOOTSTRAP_EMAIL 生成一次性 superadmin 邀请
func BootstrapFirstAdmin(ctx context.Context, cfg Config, repo *db.Repo) {
	if cfg.BootstrapEmail == "" {
		return
	}
	n, err := repo.CountAdmins(ctx)
	if err != nil {
		zap.L().Warn("bootstrap: count admins", zap.Error(err))
		return
	}
	if n > 0 {
		return // 已经有管理员，跳过
	}

	// 生成一次性邀请
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		zap.L().Error("bootstrap: token", zap.Error(err))
		return
	}
	token := hex.EncodeToString(buf)

	if _, err := repo.CreateInvite(ctx, cfg.BootstrapEmail, token, models.RoleSuperAdmin, time.Now().Add(24*time.Hour), "bootstrap"); err != nil {
		zap.L().Error("bootstrap invite failed", zap.Error(err))
		return
	}

	// 打印邀请链接（直接点开注册）
	link := fmt.Sprintf("%s/login?inviteToken=%s", cfg.WebOrigin, token)
	zap.L().Info("[BOOTSTRAP] no admin found, created an admin invite", zap.String("email", cfg.BootstrapEmail))
	zap.L().Info("[BOOTSTRAP] open this URL to register the first admin", zap.String("link", link))
}
