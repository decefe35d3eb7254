package http

import (
	"crypto/subtle"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sitecraft/builder-service/internal/metrics"
	"github.com/sitecraft/builder-service/internal/ratelimit"
)

const userIDKey = "userID"

// JWTAuthMiddleware validates JWT tokens for user endpoints
// 兼容 auth-service 签发的 JWT 格式，使用 MapClaims 解析
func JWTAuthMiddleware(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthenticated(c, "missing authorization header")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			abortUnauthenticated(c, "invalid authorization format")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(secretKey), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid {
			abortUnauthenticated(c, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abortUnauthenticated(c, "invalid token claims")
			return
		}

		// 优先使用 uid 字段，其次使用 sub 字段（标准 JWT claim）
		var userID string
		if uid, ok := claims["uid"].(string); ok && uid != "" {
			userID = uid
		} else if sub, ok := claims["sub"].(string); ok {
			userID = sub
		}
		if userID == "" {
			abortUnauthenticated(c, "token has no user")
			return
		}
		c.Set(userIDKey, userID)

		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "unauthenticated"})
}

// InternalAuthMiddleware validates internal service calls
// 使用常量时间比较防止时序攻击
func InternalAuthMiddleware(internalSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Internal-Secret")
		if internalSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(internalSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized internal access", "code": "unauthenticated"})
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware 速率限制中间件
//
// The client is identified by ratelimit.ClientKey. Every response carries
// the X-RateLimit-* headers; a rejected request gets 429 with Retry-After.
// Limiter errors let the request through.
func RateLimitMiddleware(name string, limiter ratelimit.Checker, stats ratelimit.StatsRecorder, m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ratelimit.ClientKey(c.Request)

		res, err := limiter.Check(c.Request.Context(), key)
		if err != nil {
			log.Printf("[RateLimit] %s limiter unavailable, allowing %s: %v", name, key, err)
			m.RecordRateLimit(name, "error")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

		if stats != nil {
			ev := ratelimit.Event{
				Key:     key,
				Allowed: res.Success,
				Method:  c.Request.Method,
				Path:    c.FullPath(),
				At:      time.Now(),
			}
			if err := stats.Record(c.Request.Context(), ev); err != nil {
				log.Printf("[RateLimit] Failed to record %s decision: %v", name, err)
			}
		}

		if !res.Success {
			m.RecordRateLimit(name, "denied")
			c.Header("Retry-After", strconv.Itoa(retryAfter(res.Reset, time.Now())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
				"code":  "rate_limited",
			})
			return
		}

		m.RecordRateLimit(name, "allowed")
		c.Next()
	}
}

// retryAfter is the whole number of seconds until reset, at least 1.
func retryAfter(reset, now time.Time) int {
	secs := int(math.Ceil(reset.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// MetricsMiddleware records request count and latency by route template.
func MetricsMiddleware(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
