package middleware

import (
	"MeetingScribe/pkg/cache"
	"MeetingScribe/pkg/metrics"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterPerGuild(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: "2-M", Identifier: "guild", AddHeaders: true, SkipPaths: []string{"/healthz"}}, nil, metrics.NewMetrics())
	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/g/:guild", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodPost, "/g/a", nil)).Code)
	}
	w := serve(r, httptest.NewRequest(http.MethodPost, "/g/a", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, serve(r, httptest.NewRequest(http.MethodPost, "/g/b", nil)).Code, "other guild has its own bucket")
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	}
}

func TestIdempotency(t *testing.T) {
	r := gin.New()
	r.Use(IdempotencyMiddleware(IdempotencyConfig{Store: cache.NewGoCache(cache.LocalConfig{}), TTL: time.Minute}))
	r.POST("/start", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := func(key, body string) *http.Request {
		rq := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(body))
		if key != "" {
			rq.Header.Set("Idempotency-Key", key)
		}
		return rq
	}
	assert.Equal(t, http.StatusCreated, serve(r, req("k1", "")).Code)
	assert.Equal(t, http.StatusConflict, serve(r, req("k1", "")).Code)
	assert.Equal(t, http.StatusCreated, serve(r, req("k2", "")).Code)

	assert.Equal(t, http.StatusCreated, serve(r, req("", `{"a":1}`)).Code)
	assert.Equal(t, http.StatusConflict, serve(r, req("", `{"a":1}`)).Code)
	assert.Equal(t, http.StatusCreated, serve(r, req("", `{"a":2}`)).Code)
}

func TestSignVerify(t *testing.T) {
	r := gin.New()
	r.Use(SignVerifyMiddleware("s3cret"))
	r.POST("/x", func(c *gin.Context) {
		b, _ := c.GetRawData()
		c.String(http.StatusOK, string(b))
	})

	body := `{"text":"hi"}`
	ts := time.Now().Unix()
	signed := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	signed.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	signed.Header.Set(SignatureHeader, Sign("s3cret", http.MethodPost, "/x", []byte(body), ts))
	w := serve(r, signed)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, body, w.Body.String(), "body is still readable by the handler")

	bad := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	bad.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	bad.Header.Set(SignatureHeader, Sign("other", http.MethodPost, "/x", []byte(body), ts))
	assert.Equal(t, http.StatusUnauthorized, serve(r, bad).Code)

	stale := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	old := ts - 3600
	stale.Header.Set(TimestampHeader, strconv.FormatInt(old, 10))
	stale.Header.Set(SignatureHeader, Sign("s3cret", http.MethodPost, "/x", []byte(body), old))
	assert.Equal(t, http.StatusUnauthorized, serve(r, stale).Code)

	open := gin.New()
	open.Use(SignVerifyMiddleware(""))
	open.GET("/y", func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(open, httptest.NewRequest(http.MethodGet, "/y", nil)).Code)
}

func TestAccessLog(t *testing.T) {
	m := metrics.NewMetrics()
	r := gin.New()
	r.Use(AccessLog(zap.NewNop(), m))
	r.GET("/a/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	assert.Equal(t, http.StatusTeapot, serve(r, httptest.NewRequest(http.MethodGet, "/a/1", nil)).Code)

	families, err := m.Registry().Gather()
	assert.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "scribe_http_requests_total" {
			found = true
			assert.Equal(t, "/a/:id", labelValue(f.GetMetric()[0].GetLabel(), "route"))
		}
	}
	assert.True(t, found)
}

func labelValue(labels []*dto.LabelPair, name string) string {
	for _, l := range labels {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}
