package middleware

import (
	"MeetingScribe/pkg/metrics"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimiterConfig 限流配置
//
// 示例：Rate: "100-M"、Identifier: "ip"/"guild"/"header"
// PerRouteRates: {"/api/guilds/:guild/notes": "5-S"}
// SkipPaths: ["/healthz"] 前缀匹配
type RateLimiterConfig struct {
	Rate          string            `json:"rate"`
	PerRouteRates map[string]string `json:"per_route_rates"`
	Identifier    string            `json:"identifier"`  // ip|guild|header
	HeaderName    string            `json:"header_name"` // 当 identifier=header 时使用
	SkipPaths     []string          `json:"skip_paths"`
	AddHeaders    bool              `json:"add_headers"`
}

// RateLimiter 按速率缓存 limiter 实例
type RateLimiter struct {
	mu             sync.RWMutex
	cfg            RateLimiterConfig
	store          limiter.Store
	metrics        *metrics.Metrics
	limitersByRate map[string]*limiter.Limiter
}

// NewRateLimiter uses an in-memory store when store is nil.
func NewRateLimiter(cfg RateLimiterConfig, store limiter.Store, m *metrics.Metrics) *RateLimiter {
	if store == nil {
		store = memory.NewStore()
	}
	return &RateLimiter{cfg: cfg, store: store, metrics: m, limitersByRate: make(map[string]*limiter.Limiter)}
}

// Middleware 返回 Gin 中间件
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := l.config()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if pathSkipped(cfg, route) {
			c.Next()
			return
		}

		lim := l.limiter(pickRate(cfg, route))
		lctx, err := lim.Get(c, limitKey(cfg, c))
		if err != nil {
			c.Next()
			return
		}
		if cfg.AddHeaders {
			c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		}
		if lctx.Reached {
			retry := int(time.Until(time.Unix(lctx.Reset, 0)).Seconds())
			if retry < 0 {
				retry = 0
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			l.metrics.RecordRateLimit(route, false)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		l.metrics.RecordRateLimit(route, true)
		c.Next()
	}
}

// UpdateConfig swaps the configuration; cached limiters are rebuilt lazily.
func (l *RateLimiter) UpdateConfig(cfg RateLimiterConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.limitersByRate = make(map[string]*limiter.Limiter)
}

func (l *RateLimiter) config() RateLimiterConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *RateLimiter) limiter(rateStr string) *limiter.Limiter {
	l.mu.RLock()
	lim, ok := l.limitersByRate[rateStr]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limitersByRate[rateStr]; ok {
		return lim
	}
	r, err := limiter.NewRateFromFormatted(rateStr)
	if err != nil {
		r = limiter.Rate{Period: time.Second, Limit: 10}
	}
	lim = limiter.New(l.store, r)
	l.limitersByRate[rateStr] = lim
	return lim
}

func pickRate(cfg RateLimiterConfig, route string) string {
	if r, ok := cfg.PerRouteRates[route]; ok && r != "" {
		return r
	}
	if cfg.Rate != "" {
		return cfg.Rate
	}
	return "10-S"
}

func pathSkipped(cfg RateLimiterConfig, route string) bool {
	for _, pref := range cfg.SkipPaths {
		if pref != "" && strings.HasPrefix(route, pref) {
			return true
		}
	}
	return false
}

func limitKey(cfg RateLimiterConfig, c *gin.Context) string {
	ip := strings.TrimPrefix(c.ClientIP(), "::ffff:")
	switch cfg.Identifier {
	case "guild":
		if g := c.Param("guild"); g != "" {
			return "guild:" + g
		}
	case "header":
		if hv := strings.TrimSpace(c.GetHeader(cfg.HeaderName)); hv != "" {
			return "hdr:" + hv
		}
	}
	return "ip:" + ip
}
