package handlers

import (
	"MeetingScribe/pkg/middleware"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	if h.opts.Catalog != nil {
		ctx, cancel := context.WithTimeout(c, 2*time.Second)
		defer cancel()
		if err := h.opts.Catalog.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "catalog ping failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "active_sessions": h.opts.Registry.Len()})
}

// Status lists what is recording right now.
func (h *Handlers) Status(c *gin.Context) {
	keys := h.opts.Registry.Keys()
	active := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		mgr, ok := h.opts.Registry.Get(key)
		if !ok {
			continue
		}
		sess := mgr.Session()
		active = append(active, gin.H{"guild": key, "session_id": sess.ID, "state": mgr.State().String()})
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

// UpdateRateLimiterConfig 更新限流配置
func (h *Handlers) UpdateRateLimiterConfig(c *gin.Context) {
	var cfg middleware.RateLimiterConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	h.limiter.UpdateConfig(cfg)
	c.JSON(http.StatusOK, gin.H{"message": "rate limiter config updated"})
}
