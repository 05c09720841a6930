package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/realtime"
)

type WSController struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

// NewWSController 只接受来自 allowedOrigins 的连接；列表为空时不检查
func NewWSController(hub *realtime.Hub, allowedOrigins []string) *WSController {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WSController{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// GET /ws
func (wc *WSController) Serve(c *gin.Context) {
	conn, err := wc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Debug("ws upgrade", zap.Error(err))
		return
	}
	realtime.NewClient(wc.hub).Serve(conn)
}
