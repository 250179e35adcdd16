package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/services"
)

type TokenValidator interface {
	ValidateToken(token string) (*services.Claims, error)
}

func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format")
				return
			}
			tokenString = parts[1]
		} else {
			// browsers cannot set headers on a WebSocket upgrade
			tokenString = c.Query("token")
			if tokenString == "" {
				abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
				return
			}
		}

		claims, err := validator.ValidateToken(tokenString)
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("session_id", claims.SessionID)

		c.Next()
	}
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error)
}

// Limit is the budget for one route within a window.
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimits keys budgets by path suffix.
func DefaultLimits(betsPerMinute int) map[string]Limit {
	return map[string]Limit{
		"/bet/commit":     {Max: betsPerMinute, Window: time.Minute},
		"/bet/reveal":     {Max: betsPerMinute * 2, Window: time.Minute},
		"/lucky-draw/buy": {Max: 30, Window: time.Minute},
		"/deposit":        {Max: 10, Window: time.Minute},
		"/withdraw":       {Max: 10, Window: time.Minute},
		"/transfer":       {Max: 20, Window: time.Minute},
	}
}

func RateLimitMiddleware(limiter RateLimiter, limits map[string]Limit) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		var (
			limit Limit
			found bool
		)
		for suffix, l := range limits {
			if strings.HasSuffix(path, suffix) {
				limit, found = l, true
				break
			}
		}
		if !found {
			c.Next()
			return
		}

		allowed, err := limiter.CheckRateLimit(c.Request.Context(), userID, path, limit.Max, limit.Window)
		if err != nil {
			logger.Warn("Rate limit check failed", "user", userID, "path", path, "error", err)
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			abort(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
