package handlers

import (
	"MeetingScribe/internal/catalog"
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"MeetingScribe/pkg/middleware"
	"MeetingScribe/pkg/util"
	"MeetingScribe/pkg/websocket"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type fixture struct {
	root     string
	registry *session.Registry
	handlers *Handlers
	server   *httptest.Server
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	root := t.TempDir()
	reg := session.NewRegistry(session.Options{Root: root, StopTimeout: 2 * time.Second})
	opts := Options{
		Registry:  reg,
		Root:      root,
		RateLimit: middleware.RateLimiterConfig{Rate: "1000-S"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h := NewHandlers(opts)
	engine := gin.New()
	h.Register(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		h.Close()
		reg.StopAll(context.Background())
		srv.Close()
	})
	return &fixture{root: root, registry: reg, handlers: h, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	if len(out) == 0 {
		out["raw"] = string(raw)
	}
	return resp.StatusCode, out
}

const startBody = `{"channel":{"id":"42","name":"standup"},"title":"weekly"}`

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/api/guilds/g1/sessions", startBody, map[string]string{"Idempotency-Key": "a"})
	require.Equal(t, http.StatusCreated, code, body)
	id := body["session_id"].(string)
	require.NotEmpty(t, id)

	code, _ = f.do(t, http.MethodPost, "/api/guilds/g1/sessions", startBody, map[string]string{"Idempotency-Key": "a"})
	assert.Equal(t, http.StatusConflict, code, "duplicate request")
	code, body = f.do(t, http.MethodPost, "/api/guilds/g1/sessions", startBody, map[string]string{"Idempotency-Key": "b"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state", body["code"])

	code, body = f.do(t, http.MethodGet, "/api/guilds", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"g1"}, body["guilds"])

	code, _ = f.do(t, http.MethodPost, "/api/guilds/g1/notes", `{"speaker":{"id":"u1","name":"alice"},"text":"agenda item one"}`, nil)
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = f.do(t, http.MethodPost, "/api/guilds/g1/voice-states",
		`{"speaker":{"id":"u1","name":"alice"},"before":{},"after":{"channel_id":"42","channel_name":"standup"}}`, nil)
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = f.do(t, http.MethodPost, "/api/guilds/g1/notes", `{"text":"no speaker"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/api/guilds/g1/sessions", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["session_id"])
	assert.Equal(t, "active", body["state"])

	code, _ = f.do(t, http.MethodGet, "/api/sessions/"+id+"/timeline", "", nil)
	assert.Equal(t, http.StatusConflict, code, "store is busy while recording")

	code, body = f.do(t, http.MethodDelete, "/api/guilds/g1/sessions", "", nil)
	require.Equal(t, http.StatusOK, code, body)
	md := body["metadata"].(map[string]any)
	assert.Equal(t, id, md["session_id"])
	assert.NotNil(t, md["session_end"])

	code, _ = f.do(t, http.MethodDelete, "/api/guilds/g1/sessions", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPost, "/api/guilds/g1/notes", `{"speaker":{"id":"u1"},"text":"late"}`, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/api/sessions?status=complete", "", nil)
	require.Equal(t, http.StatusOK, code)
	rows := body["sessions"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].(map[string]any)["id"])
	assert.Equal(t, "weekly", rows[0].(map[string]any)["title"])

	code, body = f.do(t, http.MethodGet, "/api/sessions/"+id, "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["incomplete"])

	code, body = f.do(t, http.MethodGet, "/api/sessions/"+id+"/timeline", "", nil)
	require.Equal(t, http.StatusOK, code)
	text := body["raw"].(string)
	assert.Contains(t, text, "[CHAT NOTES]")
	assert.Contains(t, text, "alice: agenda item one")
	assert.Contains(t, text, "alice joined")

	code, _ = f.do(t, http.MethodGet, "/api/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStartRequiresChannel(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodPost, "/api/guilds/g1/sessions", `{"title":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 0, f.registry.Len())
}

func TestIngestWebsocket(t *testing.T) {
	f := newFixture(t, nil)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/guilds/g1/ingest"
	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.Error(t, err, "no session yet")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	code, body := f.do(t, http.MethodPost, "/api/guilds/g1/sessions", startBody, nil)
	require.Equal(t, http.StatusCreated, code)
	id := body["session_id"].(string)

	ws, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	send := func(msg websocket.Message) websocket.Message {
		require.NoError(t, ws.WriteJSON(msg))
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var reply websocket.Message
		require.NoError(t, ws.ReadJSON(&reply))
		return reply
	}

	reply := send(websocket.Message{Type: websocket.MessageTypeSpeaker, Seq: 1,
		Data: json.RawMessage(`{"id":"u1","name":"alice","nick":"Ali"}`)})
	assert.Equal(t, websocket.MessageTypeAck, reply.Type)
	assert.Equal(t, int64(1), reply.Seq)

	for i := 0; i < 5; i++ {
		frame, err := websocket.EncodeAudio("u1", make([]byte, session.FrameBytes))
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(gorilla.BinaryMessage, frame))
	}
	reply = send(websocket.Message{Type: websocket.MessageTypeNote, Seq: 2,
		Data: json.RawMessage(`{"speaker":{"id":"u1"},"text":"from the bot"}`)})
	assert.Equal(t, websocket.MessageTypeAck, reply.Type)

	reply = send(websocket.Message{Type: "bogus", Seq: 3})
	assert.Equal(t, websocket.MessageTypeError, reply.Type)

	code, body = f.do(t, http.MethodDelete, "/api/guilds/g1/sessions", "", nil)
	require.Equal(t, http.StatusOK, code)
	md := body["metadata"].(map[string]any)
	assert.EqualValues(t, 1, md["participant_count"])
	tracks := md["tracks"].([]any)
	require.Len(t, tracks, 1)
	tr := tracks[0].(map[string]any)
	assert.Equal(t, "u1", tr["id"])
	assert.Equal(t, "Ali", tr["name"])
	assert.Equal(t, session.TrackStopped, tr["status"])

	code, body = f.do(t, http.MethodGet, "/api/sessions/"+id+"/timeline", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["raw"].(string), "Ali: from the bot")
	assert.FileExists(t, filepath.Join(f.root, id, session.TrackFile("u1")))
}

func TestSignedAPI(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Secret = "s3cret" })

	code, _ := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	ts := time.Now().Unix()
	code, body := f.do(t, http.MethodGet, "/api/status", "", map[string]string{
		middleware.TimestampHeader: strconv.FormatInt(ts, 10),
		middleware.SignatureHeader: middleware.Sign("s3cret", http.MethodGet, "/api/status", nil, ts),
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["active"])
}

func TestListFromCatalog(t *testing.T) {
	cat, err := catalog.Open("sqlite", util.SQLiteFileDSN(filepath.Join(t.TempDir(), "catalog.db")), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	require.NoError(t, cat.MarkActive(context.Background(), "s-old", "/x/s-old", time.Now().Add(-time.Hour)))

	f := newFixture(t, func(o *Options) { o.Catalog = cat })
	code, body := f.do(t, http.MethodGet, "/api/sessions", "", nil)
	require.Equal(t, http.StatusOK, code)
	rows := body["sessions"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SessionActive, rows[0].(map[string]any)["status"])

	code, body = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestRateLimitConfigUpdate(t *testing.T) {
	f := newFixture(t, nil)
	code, _ := f.do(t, http.MethodPut, "/api/admin/rate-limit", `{"rate":"1-M","identifier":"ip"}`, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/guilds", "", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/guilds", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
}
