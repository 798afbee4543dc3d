package transcribe

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"MeetingScribe/internal/store"
	"MeetingScribe/pkg/errors"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordSession records alice (joins at +5 s) and bob (joins at +6 s),
// 400 ms of audio each, and returns the stopped session directory.
func recordSession(t *testing.T) string {
	t.Helper()
	c := &clock{t: time.Date(2026, 2, 5, 19, 26, 43, 185_000_000, time.UTC)}
	mgr := session.NewManager(session.Options{
		Root:     t.TempDir(),
		Location: time.FixedZone("", 5*3600+30*60),
		Clock:    c.now,
		Models:   session.Models{Transcriber: session.TranscriberModel{Model: "medium"}},
	})
	sess, err := mgr.Start(context.Background(), session.Channel{ID: "42", Name: "standup"}, "")
	require.NoError(t, err)

	alice := session.Speaker{ID: "1", Name: "alice"}
	bob := session.Speaker{ID: "2", Name: "bob", NickName: "bobby"}
	bot := session.Speaker{ID: "9", Name: "scribe", IsBot: true}
	pcm := make([]byte, session.FrameBytes)

	c.advance(5 * time.Second)
	for i := 0; i < 20; i++ {
		mgr.Sink().Write(alice, pcm)
		mgr.Sink().Write(bot, pcm)
		c.advance(session.FrameDuration)
	}
	c.advance(600 * time.Millisecond)
	for i := 0; i < 20; i++ {
		mgr.Sink().Write(bob, pcm)
		c.advance(session.FrameDuration)
	}
	require.NoError(t, mgr.LogNote(alice, "ship it"))
	_, err = mgr.Stop(context.Background())
	require.NoError(t, err)
	return sess.Dir
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []Request
	segs  map[string][]Segment
	fail  map[string]bool
}

func (e *fakeEngine) Transcribe(_ context.Context, req Request) ([]Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, req)
	id := strings.TrimSuffix(filepath.Base(req.Path), session.TrackExt)
	if e.fail[id] {
		return nil, fmt.Errorf("engine crashed")
	}
	return e.segs[id], nil
}

func TestPipelineReconstructsAndSorts(t *testing.T) {
	dir := recordSession(t)
	engine := &fakeEngine{segs: map[string][]Segment{
		"1": {{Start: 12.340, End: 13.0, Text: " hello "}, {Start: 0.5, End: 1.0, Text: "first"}, {Start: 2, Text: "  "}},
		"2": {{Start: 1.0, End: 2.0, Text: "hi alice"}},
	}}
	p := &Pipeline{Engine: engine, Retries: 1}

	res, err := p.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tracks)
	assert.Equal(t, 3, res.Segments)
	require.Len(t, engine.calls, 2, "bots are not transcribed")
	assert.Equal(t, "medium", engine.calls[0].Model)

	st, err := store.OpenDir(dir, nil)
	require.NoError(t, err)
	defer st.Close()
	rows, err := st.Transcripts(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "2026-02-06T00:56:48.685+05:30", rows[0].Timestamp)
	assert.Equal(t, "first", rows[0].Text)
	assert.Equal(t, "2026-02-06T00:56:50.185+05:30", rows[1].Timestamp)
	assert.Equal(t, "bobby", rows[1].UserName)
	assert.Equal(t, "2026-02-06T00:57:00.525+05:30", rows[2].Timestamp)
	assert.Equal(t, "hello", rows[2].Text)
	assert.Equal(t, uint(1), rows[0].ID)

	// re-running replaces rather than duplicates
	_, err = p.Run(context.Background(), dir)
	require.NoError(t, err)
	again, err := st.Transcripts(context.Background())
	require.NoError(t, err)
	assert.Len(t, again, 3)

	timeline, err := os.ReadFile(filepath.Join(dir, TimelineFile))
	require.NoError(t, err)
	assert.Contains(t, string(timeline), "00:57:00 alice: hello")
	assert.Contains(t, string(timeline), "alice: ship it")
}

func TestPipelineSurvivesOneFailingTrack(t *testing.T) {
	dir := recordSession(t)
	engine := &fakeEngine{
		segs: map[string][]Segment{"1": {{Start: 0, Text: "ok"}}},
		fail: map[string]bool{"2": true},
	}
	res, err := (&Pipeline{Engine: engine}).Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tracks)
	assert.Equal(t, 1, res.Failed)

	engine.fail["1"] = true
	_, err = (&Pipeline{Engine: engine}).Run(context.Background(), dir)
	assert.Error(t, err)
}

func TestPipelineWaitsForMetadata(t *testing.T) {
	dir := t.TempDir()
	p := &Pipeline{Engine: &fakeEngine{}, Retries: 3, RetryDelay: time.Millisecond}

	_, err := p.Run(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeMissingDependency))

	md := &session.Metadata{SessionID: "s", SessionStart: "2026-02-06T00:56:43.185+05:30"}
	require.NoError(t, session.NewMetadataStore().Checkpoint(session.MetadataPath(dir), md))
	_, err = p.Run(context.Background(), dir)
	assert.True(t, errors.HasCode(err, errors.CodeMissingDependency), "an active session is not ready")
}

func TestPipelineSeesMetadataWrittenLater(t *testing.T) {
	src := recordSession(t)
	dir := t.TempDir()
	require.NoError(t, os.Rename(filepath.Join(src, session.UsersDir), filepath.Join(dir, session.UsersDir)))
	require.NoError(t, os.Rename(session.StorePath(src), session.StorePath(dir)))
	raw, err := os.ReadFile(session.MetadataPath(src))
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(session.MetadataPath(dir), raw, 0o644)
	}()
	p := &Pipeline{Engine: &fakeEngine{}, Retries: 100, RetryDelay: 5 * time.Millisecond}
	_, err = p.Run(context.Background(), dir)
	assert.NoError(t, err)
}

func TestRowsUsesJoinOffset(t *testing.T) {
	start := time.Date(2026, 2, 5, 19, 26, 43, 185_000_000, time.UTC)
	loc := time.FixedZone("", 5*3600+30*60)
	rows := Rows(start, models.User{UserID: "1", UserName: "alice", JoinOffsetMs: 5000}, []Segment{{Start: 12.340, Text: "x"}}, loc)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-02-06T00:57:00.525+05:30", rows[0].Timestamp)
}
