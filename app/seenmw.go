// app/seenmw.go
package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"Gin_postgres_redis_rent_tracker/db"
)

// TouchLastSeen 每个用户每个 throttle 周期最多写一次 last_seen
func TouchLastSeen(repo *db.Repo, rdb *redis.Client, throttle time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString(CtxUserID)
		if uid == "" || rdb == nil {
			c.Next()
			return
		}

		key := "rt:lastseen:" + uid
		if ok, _ := rdb.SetNX(c, key, "1", throttle).Result(); ok {
			if err := repo.TouchUserSeen(c, uid); err != nil { // 忽略错误，不阻塞请求
				zap.L().Debug("touch last seen", zap.String("user", uid), zap.Error(err))
			}
		}
		c.Next()
	}
}
