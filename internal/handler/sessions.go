package handlers

import (
	"MeetingScribe/internal/catalog"
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"MeetingScribe/internal/store"
	"MeetingScribe/internal/timestamp"
	"MeetingScribe/internal/transcribe"
	"MeetingScribe/pkg/cache"
	"MeetingScribe/pkg/errors"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type startRequest struct {
	Channel session.Channel `json:"channel"`
	Title   string          `json:"title"`
}

// StartSession 开始录音
func (h *Handlers) StartSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Channel.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel.id is required"})
		return
	}
	guild := c.Param("guild")
	_, sess, err := h.opts.Registry.Start(context.WithoutCancel(c), guild, req.Channel, req.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.invalidateLists()
	h.log.Info("session started via api", zap.String("guild", guild), zap.String("session", sess.ID))
	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"dir":        sess.Dir,
		"start":      timestamp.Format(sess.Start),
	})
}

// StopSession 停止录音 and returns the final metadata.
func (h *Handlers) StopSession(c *gin.Context) {
	// a client hanging up must not cut the drain short
	md, err := h.opts.Registry.Stop(context.WithoutCancel(c), c.Param("guild"))
	h.invalidateLists()
	if err != nil && md == nil {
		h.respondError(c, err)
		return
	}
	resp := gin.H{"metadata": md}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GetActive describes the live session of a guild.
func (h *Handlers) GetActive(c *gin.Context) {
	mgr, ok := h.opts.Registry.Get(c.Param("guild"))
	if !ok {
		h.respondError(c, session.ErrNotRecording)
		return
	}
	sess := mgr.Session()
	tracks := []session.TrackInfo{}
	var rejected []string
	if r := mgr.Router(); r != nil {
		for _, tr := range r.Tracks() {
			tracks = append(tracks, tr.Info())
		}
		rejected = r.Rejected()
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"state":      mgr.State().String(),
		"start":      timestamp.Format(sess.Start),
		"title":      sess.Title,
		"channel":    sess.Channel,
		"tracks":     tracks,
		"rejected":   rejected,
	})
}

// ListActive lists guilds that are recording.
func (h *Handlers) ListActive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"guilds": h.opts.Registry.Keys()})
}

// ListSessions 会话列表, newest first. Served from the catalog when one is
// configured, otherwise by scanning the sessions directory.
func (h *Handlers) ListSessions(c *gin.Context) {
	status := c.Query("status")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	key := fmt.Sprintf("sessions:%d:%s:%d", h.listGen.Load(), status, limit)

	var rows []models.SessionRecord
	if cache.GetJSON(c, h.opts.Cache, key, &rows) {
		c.JSON(http.StatusOK, gin.H{"sessions": rows})
		return
	}

	var err error
	if h.opts.Catalog != nil {
		rows, err = h.opts.Catalog.List(c, status, limit)
	} else {
		rows, err = h.scan(status, limit)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rows == nil {
		rows = []models.SessionRecord{}
	}
	_ = cache.SetJSON(c, h.opts.Cache, key, rows, h.opts.ListTTL)
	c.JSON(http.StatusOK, gin.H{"sessions": rows})
}

func (h *Handlers) scan(status string, limit int) ([]models.SessionRecord, error) {
	infos, err := session.List(h.opts.Root)
	if err != nil {
		return nil, err
	}
	live := h.liveIDs()
	var rows []models.SessionRecord
	for _, info := range infos {
		rec := catalog.FromInfo(info)
		if live[rec.ID] {
			rec.Status = models.SessionActive
		}
		if status != "" && rec.Status != status {
			continue
		}
		rows = append(rows, rec)
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows, nil
}

// GetSession returns the metadata of one session directory.
func (h *Handlers) GetSession(c *gin.Context) {
	dir, ok := h.sessionDir(c)
	if !ok {
		return
	}
	info := session.Inspect(dir)
	resp := gin.H{
		"id":         info.ID,
		"dir":        info.Dir,
		"active":     h.liveIDs()[info.ID],
		"incomplete": info.Incomplete,
		"corrupt":    info.Corrupt,
		"metadata":   info.Metadata,
	}
	if info.Err != nil {
		resp["error"] = info.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GetTimeline serves timeline.txt, rendering it from the durable store
// when transcription has not produced one yet.
func (h *Handlers) GetTimeline(c *gin.Context) {
	dir, ok := h.sessionDir(c)
	if !ok {
		return
	}
	if path := filepath.Join(dir, transcribe.TimelineFile); fileExists(path) {
		c.File(path)
		return
	}
	if h.liveIDs()[filepath.Base(dir)] {
		h.respondError(c, errors.WithCode(errors.CodeInvalidState, "session is still recording"))
		return
	}
	if !fileExists(session.StorePath(dir)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session has no store"})
		return
	}

	st, err := store.OpenDir(dir, h.opts.Metrics)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer st.Close()
	tl, err := st.BuildTimeline(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	date := ""
	if md := session.Inspect(dir).Metadata; md != nil {
		if t, err := md.StartTime(); err == nil {
			date = t.Format("2006-01-02")
		}
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	if err := tl.Render(c.Writer, date); err != nil {
		h.log.Warn("render timeline failed", zap.String("dir", dir), zap.Error(err))
	}
}

// sessionDir resolves :id under Root, rejecting anything that is not a
// plain directory name.
func (h *Handlers) sessionDir(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return "", false
	}
	dir := filepath.Join(h.opts.Root, id)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return "", false
	}
	return dir, true
}

func (h *Handlers) liveIDs() map[string]bool {
	live := make(map[string]bool)
	for _, key := range h.opts.Registry.Keys() {
		if mgr, ok := h.opts.Registry.Get(key); ok {
			live[mgr.Session().ID] = true
		}
	}
	return live
}

// invalidateLists bumps the listing generation; stale entries age out by
// ListTTL. The cache also holds idempotency keys, so it is never cleared.
func (h *Handlers) invalidateLists() {
	h.listGen.Add(1)
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch code := errors.GetCode(err); {
	case errors.Is(err, session.ErrNotRecording):
		status = http.StatusNotFound
	case code == errors.CodeInvalidState:
		status = http.StatusConflict
	case code == errors.CodeMissingDependency:
		status = http.StatusNotFound
	case code == errors.CodeSessionFatal, code == errors.CodeTransient:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		h.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": errors.CodeName(errors.GetCode(err))})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
