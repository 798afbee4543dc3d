package handlers

import (
	"MeetingScribe/internal/catalog"
	"MeetingScribe/internal/session"
	"MeetingScribe/pkg/cache"
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/metrics"
	"MeetingScribe/pkg/middleware"
	"MeetingScribe/pkg/search"
	"MeetingScribe/pkg/sse"
	"MeetingScribe/pkg/websocket"
	"context"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options wire the control API to the recording core.
type Options struct {
	Registry  *session.Registry
	Catalog   *catalog.Catalog // optional; listings fall back to scanning Root
	Cache     cache.Cache
	Root      string
	Secret    string // HMAC secret for /api; empty disables signing
	RateLimit middleware.RateLimiterConfig
	WebSocket *websocket.Config
	Metrics   *metrics.Metrics
	ListTTL   time.Duration
	Search    search.Engine // optional
	Events    *sse.Hub      // optional
}

type Handlers struct {
	opts    Options
	limiter *middleware.RateLimiter
	log     *zap.Logger
	listGen atomic.Int64

	// base is cancelled by Close to end hijacked ingest connections,
	// which http.Server.Shutdown does not track.
	base   context.Context
	cancel context.CancelFunc
}

func NewHandlers(opts Options) *Handlers {
	if opts.Cache == nil {
		opts.Cache = cache.NewGoCache(cache.LocalConfig{})
	}
	if opts.WebSocket == nil {
		opts.WebSocket = websocket.DefaultConfig()
	}
	if opts.ListTTL <= 0 {
		opts.ListTTL = 5 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &Handlers{
		opts:    opts,
		limiter: middleware.NewRateLimiter(opts.RateLimit, nil, opts.Metrics),
		log:     logger.Component("api"),
		base:    base,
		cancel:  cancel,
	}
}

// Close ends open ingest connections.
func (h *Handlers) Close() { h.cancel() }

func (h *Handlers) Register(engine *gin.Engine) {
	engine.Use(gin.Recovery(), middleware.AccessLog(h.log, h.opts.Metrics))
	engine.GET("/healthz", h.HealthCheck)

	r := engine.Group("/api")
	r.Use(middleware.SignVerifyMiddleware(h.opts.Secret), h.limiter.Middleware())

	// System Module Routes
	h.registerSystemRoutes(r)
	// Business Module Routes
	h.registerSessionRoutes(r)
	h.registerGuildRoutes(r)
}

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	r.GET("/status", h.Status)
	r.GET("/events", h.Events)
	r.GET("/search", h.Search)
	r.PUT("/admin/rate-limit", h.UpdateRateLimiterConfig)
}

// Session Module: recordings on disk
func (h *Handlers) registerSessionRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.GET("/:id/timeline", h.GetTimeline)
		sessions.POST("/:id/index", h.IndexSession)
	}
}

// Guild Module: live recordings keyed by guild
func (h *Handlers) registerGuildRoutes(r *gin.RouterGroup) {
	r.GET("/guilds", h.ListActive)
	guild := r.Group("/guilds/:guild")
	{
		guild.GET("/sessions", h.GetActive)
		guild.POST("/sessions", middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{Store: h.opts.Cache}), h.StartSession)
		guild.DELETE("/sessions", h.StopSession)

		guild.POST("/notes", h.PostNote)
		guild.POST("/voice-states", h.PostVoiceState)

		guild.GET("/ingest", h.Ingest)
	}
}
