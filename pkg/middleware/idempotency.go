package middleware

import (
	"MeetingScribe/pkg/cache"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 决定一段时间内重复请求的拒绝窗口
	Store      cache.Cache
}

// IdempotencyMiddleware rejects a repeated request (same key, or same
// method+path+body when no key is sent) within TTL with 409.
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Store == nil {
		cfg.Store = cache.NewGoCache(cache.LocalConfig{DefaultExpiration: cfg.TTL, CleanupInterval: time.Minute})
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			// 兜底以请求体生成哈希作为幂等键
			var b []byte
			if c.Request.Body != nil {
				b, _ = io.ReadAll(c.Request.Body)
				c.Request.Body = io.NopCloser(bytes.NewReader(b))
			}
			h := sha256.New()
			h.Write([]byte(c.Request.Method + " " + c.Request.URL.Path + "\n"))
			h.Write(b)
			key = hex.EncodeToString(h.Sum(nil))
		}
		key = "idem:" + key
		if _, seen := cfg.Store.Get(c, key); seen {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		_ = cfg.Store.Set(c, key, []byte{1}, cfg.TTL)
		c.Next()
	}
}
