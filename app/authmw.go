package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"Gin_postgres_redis_rent_tracker/db"
	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/session"
)

const AppSessionCookie = "app_session"

// 上下文键
const (
	CtxUserID   = "userID"
	CtxUsername = "username"
	CtxIsAdmin  = "isAdmin"
	CtxApproved = "approved"
	CtxRole     = "role"
)

func AuthRequired(appSess *session.AppSessionStore, repo *db.Repo, cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ck, err := c.Request.Cookie(AppSessionCookie)
		if err != nil || ck.Value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		as, err := appSess.Get(c.Request.Context(), ck.Value)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "invalid session"})
			return
		}

		// 这里确认用户仍存在，并把角色/审批状态放进 Context（只查一次）
		u, err := repo.FindUserByID(c.Request.Context(), as.UserID)
		if err != nil {
			_ = appSess.Delete(c.Request.Context(), ck.Value)
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		SetUser(c, *u, cfg)
		c.Next()
	}
}

// SetUser 把用户信息写入 Context；配置的管理员邮箱视为已审批的管理员
func SetUser(c *gin.Context, u models.User, cfg Config) {
	isAdmin := u.IsAdmin() || cfg.IsAdminEmail(u.Username)
	c.Set(CtxUserID, u.ID)
	c.Set(CtxUsername, u.Username)
	c.Set(CtxRole, u.Role)
	c.Set(CtxIsAdmin, isAdmin)
	c.Set(CtxApproved, u.Approved || isAdmin)
}

// ApprovedOnly 未审批的用户不能操作设备
func ApprovedOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(CtxUserID); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		if !c.GetBool(CtxApproved) {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "account pending approval"})
			return
		}
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 已有 AuthRequired 设置的 userID
		if _, ok := c.Get(CtxUserID); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		if !c.GetBool(CtxIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
