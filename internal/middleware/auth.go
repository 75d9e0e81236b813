package middleware

import (
	"strings"

	"studypath_backend/internal/config"
	"studypath_backend/internal/util"
	"studypath_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		// EventSource 不能带自定义头，流式端点允许 query 传 token
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("JWT解析失败", zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}

// UserActivityRepo 记录用户最近活跃时间
type UserActivityRepo interface {
	UpdateLastSeen(id uint) error
}

// ActivityMiddleware 异步刷新 last_seen，失败不影响请求
func ActivityMiddleware(repo UserActivityRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		claims := util.GetUserFromContext(c)
		if claims == nil {
			return
		}
		go func(id uint) {
			if err := repo.UpdateLastSeen(id); err != nil {
				logger.Log.Debug("update last seen failed", zap.Uint("userId", id), zap.Error(err))
			}
		}(claims.UserID)
	}
}
