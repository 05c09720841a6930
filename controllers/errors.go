package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"Gin_postgres_redis_rent_tracker/app"
	"Gin_postgres_redis_rent_tracker/lifecycle"
	"Gin_postgres_redis_rent_tracker/scan"
	"Gin_postgres_redis_rent_tracker/session"
	"Gin_postgres_redis_rent_tracker/upload"
)

// statusOf 把领域错误映射成 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInFlight), lifecycle.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, upload.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case lifecycle.IsValidation(err),
		errors.Is(err, scan.ErrEmptyPayload),
		errors.Is(err, upload.ErrEmptyFile),
		errors.Is(err, upload.ErrInvalidMimeType),
		errors.Is(err, upload.ErrInvalidKind),
		errors.Is(err, upload.ErrTooManyFiles),
		errors.Is(err, upload.ErrNoFiles):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
	}
	c.JSON(code, app.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, app.H{"error": msg})
}

// actorFrom 取出 AuthRequired 写入的操作者
func actorFrom(c *gin.Context) lifecycle.Actor {
	return lifecycle.Actor{ID: c.GetString(app.CtxUserID), Name: c.GetString(app.CtxUsername)}
}
