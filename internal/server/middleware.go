package server

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/dispatch"
	"github.com/zulandar/switchyard/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader = "X-Request-Id"
	identityKey     = "identity"
	requestIDKey    = "request_id"
)

func recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panicked",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					dispatch.Failure(apperr.Errorf(apperr.Internal, "server", "panic")))
			}
		}()
		c.Next()
	}
}

// requestID propagates the caller's X-Request-Id or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(status))
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(requestIDKey)))
	}
}

// identity reads the caller from the headers set by the upstream auth
// proxy. Requests without a user id are rejected with 401.
func identity(cfg config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := dispatch.Identity{
			ID:       strings.TrimSpace(c.GetHeader(cfg.UserIDHeader)),
			FullName: strings.TrimSpace(c.GetHeader(cfg.UserNameHeader)),
			Role:     strings.TrimSpace(c.GetHeader(cfg.UserRoleHeader)),
		}
		if id.ID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dispatch.Failure(apperr.Errorf(apperr.Unauthorized, "", "caller identity is required")))
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func callerOf(c *gin.Context) dispatch.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(dispatch.Identity)
	return id
}

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter holds one token bucket per caller. Idle buckets are dropped
// after entryTTL.
type rateLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*rateLimitEntry
	entryTTL    time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// newRateLimiter returns nil, which allows everything, when perMin is zero.
func newRateLimiter(perMin, burst int) *rateLimiter {
	if perMin <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit:       rate.Every(time.Minute / time.Duration(perMin)),
		burst:       burst,
		entries:     make(map[string]*rateLimitEntry),
		entryTTL:    15 * time.Minute,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (r *rateLimiter) allow(key string) bool {
	if r == nil || key == "" {
		return true
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastCleanup) >= r.entryTTL {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) > r.entryTTL {
				delete(r.entries, k)
			}
		}
		r.lastCleanup = now
	}

	e, ok := r.entries[key]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func rateLimit(r *rateLimiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.allow(callerOf(c).ID) {
			m.IncRateLimited()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Bạn gửi quá nhiều yêu cầu, vui lòng thử lại sau.",
				"error":   "RateLimited",
			})
			return
		}
		c.Next()
	}
}
