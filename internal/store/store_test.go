package store

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/metrics"
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), FileName), metrics.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }

func TestUsersAndParticipantCount(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.UpsertUser(ctx, &models.User{UserID: "1", UserName: "alice", JoinOffsetMs: 120}))
	require.NoError(t, s.UpsertUser(ctx, &models.User{UserID: "2", UserName: "bob", JoinOffsetMs: 40}))
	require.NoError(t, s.UpsertUser(ctx, &models.User{UserID: "9", UserName: "scribe", IsBot: true}))

	// a second upsert renames but keeps the first join offset
	require.NoError(t, s.UpsertUser(ctx, &models.User{UserID: "1", UserName: "alice2", NickName: strp("al"), JoinOffsetMs: 999}))

	n, err := s.CountParticipants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "9", users[0].UserID)
	assert.Equal(t, "2", users[1].UserID)

	u, err := s.User(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.UserName)
	assert.Equal(t, int64(120), u.JoinOffsetMs)
	require.NotNil(t, u.NickName)
	assert.Equal(t, "al", *u.NickName)

	_, err = s.User(ctx, "404")
	assert.True(t, errors.HasCode(err, errors.CodeMissingDependency))
}

func TestEventsKeepVoiceStateSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	ev := &models.Event{
		Timestamp: "2026-02-06T00:56:44.000+05:30",
		OffsetMs:  815,
		UserID:    "1",
		UserName:  "alice",
		Before:    models.VoiceState{},
		After:     models.VoiceState{ChannelID: strp("42"), ChannelName: strp("standup"), SelfMute: true},
	}
	require.NoError(t, s.InsertEvent(ctx, ev))
	require.NoError(t, s.InsertNote(ctx, &models.Note{Timestamp: ev.Timestamp, OffsetMs: 815, UserID: "1", UserName: "alice", Content: "hi"}))

	events, err := s.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Before.ChannelID)
	require.NotNil(t, events[0].After.ChannelID)
	assert.Equal(t, "42", *events[0].After.ChannelID)
	assert.True(t, events[0].After.SelfMute)

	var cols int64
	require.NoError(t, s.DB().Raw("SELECT COUNT(*) FROM pragma_table_info('events') WHERE name IN ('before_channel_id', 'after_self_mute', 'after_afk')").Scan(&cols).Error)
	assert.Equal(t, int64(3), cols)

	notes, err := s.Notes(ctx)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "hi", notes[0].Content)
}

func TestRebuildTranscriptsSortsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	rows := []models.Transcript{
		{Timestamp: "2026-02-06T00:57:10.000+05:30", UserID: "2", UserName: "bob", Text: "third"},
		{Timestamp: "2026-02-06T00:57:00.525+05:30", UserID: "1", UserName: "alice", Text: "first", SegmentStart: 12.34},
		{Timestamp: "2026-02-06T00:57:05.000+05:30", UserID: "1", UserName: "alice", Text: "second"},
	}
	require.NoError(t, s.InsertTranscripts(ctx, rows))
	require.NoError(t, s.RebuildTranscripts(ctx))

	got, err := s.Transcripts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got[0].Text, got[1].Text, got[2].Text})
	assert.Equal(t, uint(1), got[0].ID)
	assert.InDelta(t, 12.34, got[0].SegmentStart, 1e-9)

	require.NoError(t, s.RebuildTranscripts(ctx))
	again, err := s.Transcripts(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	var idx int64
	require.NoError(t, s.DB().Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_timestamp_transcripts'").Scan(&idx).Error)
	assert.Equal(t, int64(1), idx)

	require.NoError(t, s.ClearTranscripts(ctx))
	got, err = s.Transcripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReopenAfterRebuild(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.InsertTranscripts(ctx, []models.Transcript{{Timestamp: "2026-01-01T00:00:00.000+00:00", UserID: "1", Text: "x"}}))
	require.NoError(t, s.RebuildTranscripts(ctx))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Transcripts(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestClassify(t *testing.T) {
	ch := strp("1")
	cases := []struct {
		before, after models.VoiceState
		want          string
	}{
		{models.VoiceState{}, models.VoiceState{ChannelID: ch}, ActionJoined},
		{models.VoiceState{ChannelID: ch}, models.VoiceState{}, ActionLeft},
		{models.VoiceState{ChannelID: ch}, models.VoiceState{ChannelID: ch, SelfMute: true}, ActionMuted},
		{models.VoiceState{ChannelID: ch, SelfMute: true}, models.VoiceState{ChannelID: ch}, ActionUnmuted},
		{models.VoiceState{ChannelID: ch}, models.VoiceState{ChannelID: ch, SelfDeaf: true}, ActionDeafened},
		{models.VoiceState{ChannelID: ch, SelfDeaf: true}, models.VoiceState{ChannelID: ch}, ActionUndeafened},
		{models.VoiceState{ChannelID: ch}, models.VoiceState{ChannelID: ch, SelfStream: true}, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(models.Event{Before: tc.before, After: tc.after}))
	}
}

func TestBuildTimeline(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.UpsertUser(ctx, &models.User{UserID: "1", UserName: "alice"}))
	require.NoError(t, s.UpsertUser(ctx, &models.User{UserID: "9", UserName: "scribe", IsBot: true}))
	require.NoError(t, s.InsertEvent(ctx, &models.Event{Timestamp: "2026-02-06T00:56:44.000+05:30", UserID: "1", UserName: "alice", After: models.VoiceState{ChannelID: strp("42")}}))
	require.NoError(t, s.InsertEvent(ctx, &models.Event{Timestamp: "2026-02-06T00:56:45.000+05:30", UserID: "1", UserName: "alice", Before: models.VoiceState{ChannelID: strp("42")}, After: models.VoiceState{ChannelID: strp("42"), SelfVideo: true}}))
	require.NoError(t, s.InsertNote(ctx, &models.Note{Timestamp: "2026-02-06T00:57:30.000+05:30", UserID: "1", UserName: "alice", Content: "ship it"}))
	require.NoError(t, s.InsertTranscripts(ctx, []models.Transcript{{Timestamp: "2026-02-06T00:57:00.525+05:30", UserID: "1", UserName: "alice", Text: "hello"}}))

	tl, err := s.BuildTimeline(ctx)
	require.NoError(t, err)
	require.Len(t, tl.Events, 1, "video toggle is not a timeline event")

	all := tl.All()
	require.Len(t, all, 3)
	assert.Equal(t, []string{KindEvent, KindTranscript, KindNote}, []string{all[0].Kind, all[1].Kind, all[2].Kind})

	var buf bytes.Buffer
	require.NoError(t, tl.Render(&buf, "2026-02-06"))
	out := buf.String()
	assert.Contains(t, out, "Date: 2026-02-06")
	assert.Contains(t, out, "00:56:44 alice joined")
	assert.Contains(t, out, "00:57:30 alice: ship it")
	assert.Contains(t, out, "00:57:00 alice: hello")
	assert.NotContains(t, out, "scribe")
}
