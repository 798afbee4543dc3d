package cli

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"MeetingScribe/internal/store"
	"MeetingScribe/internal/timestamp"
	"MeetingScribe/internal/transcribe"
	"MeetingScribe/pkg/config"
	"MeetingScribe/pkg/util"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDeps(t *testing.T) *Dependencies {
	t.Helper()
	cfg := config.Default()
	cfg.SessionsDir = t.TempDir()
	cfg.DSN = util.SQLiteFileDSN(filepath.Join(t.TempDir(), "catalog.db"))
	cfg.BackupPath = filepath.Join(t.TempDir(), "backups")
	cfg.SearchIndexPath = filepath.Join(t.TempDir(), "search.bleve")
	return &Dependencies{Config: cfg}
}

// record runs a short real session with one note and returns its id.
func record(t *testing.T, deps *Dependencies) *session.Session {
	t.Helper()
	ctx := context.Background()
	mgr := session.NewManager(session.OptionsFromConfig(deps.Config, nil))
	sess, err := mgr.Start(ctx, session.Channel{ID: "42", Name: "standup"}, "weekly")
	require.NoError(t, err)
	require.NoError(t, mgr.LogNote(session.Speaker{ID: "1", Name: "alice"}, "ship it"))
	_, err = mgr.Stop(ctx)
	require.NoError(t, err)
	return sess
}

func execute(t *testing.T, deps *Dependencies, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSessionsList(t *testing.T) {
	deps := newDeps(t)
	out, err := execute(t, deps, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found")

	sess := record(t, deps)
	out, err = execute(t, deps, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)
	assert.Contains(t, out, models.SessionComplete)
	assert.Contains(t, out, "weekly")

	out, err = execute(t, deps, "sessions", "list", "-o", "json")
	require.NoError(t, err)
	var recs []models.SessionRecord
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, sess.ID, recs[0].ID)
	assert.Equal(t, "standup", recs[0].ChannelName)

	out, err = execute(t, deps, "sessions", "list", "--incomplete")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found")
}

func TestSessionsShow(t *testing.T) {
	deps := newDeps(t)
	sess := record(t, deps)

	out, err := execute(t, deps, "sessions", "show", sess.ID)
	require.NoError(t, err)
	var md session.Metadata
	require.NoError(t, json.Unmarshal([]byte(out), &md))
	assert.Equal(t, sess.ID, md.SessionID)
	assert.True(t, md.Complete())

	_, err = execute(t, deps, "sessions", "show", "..")
	assert.Error(t, err)
}

func TestTimelineAndReindex(t *testing.T) {
	deps := newDeps(t)
	sess := record(t, deps)
	ctx := context.Background()

	st, err := store.OpenDir(sess.Dir, nil)
	require.NoError(t, err)
	late := timestamp.Format(sess.Start.Add(90 * time.Second))
	early := timestamp.Format(sess.Start.Add(30 * time.Second))
	require.NoError(t, st.InsertTranscripts(ctx, []models.Transcript{
		{Timestamp: late, UserID: "2", UserName: "bob", Text: "second"},
		{Timestamp: early, UserID: "2", UserName: "bob", Text: "first"},
	}))
	require.NoError(t, st.Close())

	out, err := execute(t, deps, "timeline", sess.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "[CHAT NOTES]")
	assert.Contains(t, out, "alice: ship it")
	assert.Contains(t, out, "bob: first")
	assert.Less(t, bytes.Index([]byte(out), []byte("bob: first")), bytes.Index([]byte(out), []byte("bob: second")))

	_, err = execute(t, deps, "reindex", sess.ID)
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(sess.Dir, transcribe.TimelineFile))
	require.NoError(t, err)
	assert.Contains(t, string(b), "alice: ship it")

	// the stored file wins unless --rebuild is given
	require.NoError(t, os.WriteFile(filepath.Join(sess.Dir, transcribe.TimelineFile), []byte("cached\n"), 0o644))
	out, err = execute(t, deps, "timeline", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached\n", out)
	out, err = execute(t, deps, "timeline", "--rebuild", sess.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "bob: first")
}

func TestReindexRefusesUnfinishedSession(t *testing.T) {
	deps := newDeps(t)
	mgr := session.NewManager(session.OptionsFromConfig(deps.Config, nil))
	sess, err := mgr.Start(context.Background(), session.Channel{ID: "42"}, "")
	require.NoError(t, err)
	defer mgr.Stop(context.Background())

	_, err = execute(t, deps, "reindex", sess.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not finished")
}

func TestSyncThenListFromCatalog(t *testing.T) {
	deps := newDeps(t)
	sess := record(t, deps)

	out, err := execute(t, deps, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 1 sessions")

	out, err = execute(t, deps, "sessions", "list", "--catalog", "--status", models.SessionComplete)
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)
}

func TestBackup(t *testing.T) {
	deps := newDeps(t)
	sess := record(t, deps)

	out, err := execute(t, deps, "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up 1 sessions")
	assert.FileExists(t, filepath.Join(deps.Config.BackupPath, sess.ID, "meeting.db"))

	out, err = execute(t, deps, "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up 0 sessions")
}

func TestSearchReindexThenQuery(t *testing.T) {
	deps := newDeps(t)
	sess := record(t, deps)

	out, err := execute(t, deps, "search", "--reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 1 documents from 1 sessions")

	out, err = execute(t, deps, "search", "ship")
	require.NoError(t, err)
	assert.Contains(t, out, sess.ID)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "ship it")

	out, err = execute(t, deps, "search", "--speaker", "bob", "ship")
	require.NoError(t, err)
	assert.Contains(t, out, "No matches")
}
