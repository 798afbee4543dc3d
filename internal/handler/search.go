package handlers

import (
	"MeetingScribe/internal/catalog"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Search 全文检索: transcripts and notes across sessions.
func (h *Handlers) Search(c *gin.Context) {
	if h.opts.Search == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "search disabled"})
		return
	}
	var q catalog.SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": want RFC 3339"})
			return
		}
		*dst = &t
	}

	res, err := catalog.Search(c, h.opts.Search, q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// IndexSession re-indexes one finished session for search.
func (h *Handlers) IndexSession(c *gin.Context) {
	if h.opts.Search == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "search disabled"})
		return
	}
	dir, ok := h.sessionDir(c)
	if !ok {
		return
	}
	n, err := catalog.IndexSession(c, h.opts.Search, dir)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("session indexed", zap.String("dir", dir), zap.Int("docs", n))
	c.JSON(http.StatusOK, gin.H{"indexed": n})
}

// Events streams session lifecycle events as server-sent events.
// ?group=<guild> narrows the stream to one guild.
func (h *Handlers) Events(c *gin.Context) {
	if h.opts.Events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream disabled"})
		return
	}
	// Shutdown waits for open requests; end the stream when the API closes.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()
	c.Request = c.Request.WithContext(ctx)

	h.opts.Events.Serve(c, uuid.NewString())
}
