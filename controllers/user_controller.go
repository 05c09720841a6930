package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"Gin_postgres_redis_rent_tracker/app"
	"Gin_postgres_redis_rent_tracker/db"
	"Gin_postgres_redis_rent_tracker/models"
	"Gin_postgres_redis_rent_tracker/session"
)

type UserController struct {
	repo    *db.Repo
	appSess *session.AppSessionStore
	cfg     app.Config
}

func GetUserController(repo *db.Repo, appSess *session.AppSessionStore, cfg app.Config) *UserController {
	return &UserController{repo: repo, appSess: appSess, cfg: cfg}
}

// GET /api/users?q=alice&pending=true&page=1&size=20
func (uc *UserController) ListUsers(c *gin.Context) {
	q := c.Query("q")
	pending := c.Query("pending") == "true"
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	res, err := uc.repo.ListUsers(c.Request.Context(), q, pending, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{
		"total": res.Total,
		"users": res.Users,
	})
}

// GET /api/users/:id
func (uc *UserController) GetUser(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "invalid uuid"})
		return
	}
	user, err := uc.repo.FindUserByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": user})
}

// PATCH /api/users/:id {"approved": true, "role": "admin"}
func (uc *UserController) UpdateUser(c *gin.Context) {
	id := c.Param("id")
	var in struct {
		Approved *bool   `json:"approved"`
		Role     *string `json:"role"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	if in.Approved == nil && in.Role == nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "nothing to update"})
		return
	}
	if id == c.GetString(app.CtxUserID) {
		c.JSON(http.StatusBadRequest, app.H{"error": "cannot change your own account"})
		return
	}
	ctx := c.Request.Context()
	target, err := uc.repo.FindUserByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	// 角色变更只允许 superadmin
	if in.Role != nil && *in.Role != target.Role && c.GetString(app.CtxRole) != models.RoleSuperAdmin {
		c.JSON(http.StatusForbidden, app.H{"error": "only a superadmin may change roles"})
		return
	}

	if in.Role != nil {
		if err := uc.repo.SetUserRole(ctx, id, *in.Role); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
			return
		}
	}
	if in.Approved != nil {
		if err := uc.repo.SetUserApproved(ctx, id, *in.Approved); err != nil {
			respondError(c, err)
			return
		}
		// 撤销审批时立刻踢下线
		if !*in.Approved {
			_ = uc.appSess.RevokeAllForUser(ctx, id)
		}
	}

	user, err := uc.repo.FindUserByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"user": user})
}

// DELETE /api/users/:id
func (uc *UserController) DeleteUser(c *gin.Context) {
	id := c.Param("id")

	// 不允许删除自己，避免锁死
	if id == c.GetString(app.CtxUserID) {
		c.JSON(http.StatusBadRequest, app.H{"error": "cannot delete yourself"})
		return
	}

	// 查一下被删用户是否是管理员，保护起来
	target, err := uc.repo.FindUserByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
		return
	}
	if uc.cfg.IsAdminEmail(target.Username) || (target.IsAdmin() && c.GetString(app.CtxRole) != models.RoleSuperAdmin) {
		c.JSON(http.StatusForbidden, app.H{"error": "cannot delete an admin"})
		return
	}

	// 真正删除（会连带删 credentials）
	if err := uc.repo.DeleteUserByID(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	// 撤销该用户的所有登录会话
	_ = uc.appSess.RevokeAllForUser(c.Request.Context(), id)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /api/users/activity?q=&sinceDays=30&page=1&size=20
func (uc *UserController) Activity(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	q := db.ActivityQuery{Q: c.Query("q"), Page: page, Size: size}
	if days, err := strconv.Atoi(c.Query("sinceDays")); err == nil && days > 0 {
		since := time.Now().AddDate(0, 0, -days)
		q.Since = &since
	}
	res, err := uc.repo.ListActorActivity(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	if res.Items == nil {
		res.Items = []db.ActorActivity{}
	}
	c.JSON(http.StatusOK, res)
}
