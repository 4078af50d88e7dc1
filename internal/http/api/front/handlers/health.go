package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	dbutil "github.com/moodmash/authcore/internal/db"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const healthTimeout = 2 * time.Second

// HealthHandler reports database and counter-store reachability.
type HealthHandler struct {
	db    *gorm.DB
	redis redis.UniversalClient
}

// NewHealthHandler constructs a HealthHandler. rdb may be nil when redis is disabled.
func NewHealthHandler(db *gorm.DB, rdb redis.UniversalClient) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb}
}

// Healthz returns 503 when the database is unreachable. A redis outage only
// degrades the report since rate limiting fails open.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if errPing := dbutil.Ping(ctx, h.db); errPing != nil {
		log.WithError(errPing).Warn("healthz: database unreachable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
		return
	}
	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "up"
		if errPing := h.redis.Ping(ctx).Err(); errPing != nil {
			log.WithError(errPing).Warn("healthz: redis unreachable")
			redisStatus = "down"
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up", "redis": redisStatus})
}
