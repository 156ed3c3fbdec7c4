package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"realtime_chat/internal/domain"
	"realtime_chat/internal/service"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

type RateLimitMiddleware struct {
	rateLimitService service.RateLimitService
	log              logger.Logger
}

func NewRateLimitMiddleware(rateLimitService service.RateLimitService, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: rateLimitService,
		log:              log,
	}
}

// Limit throttles requests per client IP under rule.
func (m *RateLimitMiddleware) Limit(rule domain.RateLimitRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := m.rateLimitService.Allow(c.Request.Context(), rule, c.ClientIP())
		switch {
		case err == nil:
		case apperrors.KindOf(err) == apperrors.KindRateLimited:
			c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		default:
			// Fail open when the counter store is down.
			m.log.Error("Rate limit check failed", "error", err, "scope", rule.Scope)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		c.Next()
	}
}
