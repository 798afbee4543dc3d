package cli

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"MeetingScribe/internal/transcribe"
	"MeetingScribe/pkg/metrics"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	deps := newDeps(t)
	deps.Config.MinFreeMB = 0
	srv, err := newServer(deps.Config, metrics.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(srv.close)
	return srv
}

func TestSessionStoppedDuringShutdownIsNotTranscribed(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	_, sess, err := srv.registry.Start(ctx, "guild-a", session.Channel{ID: "42", Name: "standup"}, "")
	require.NoError(t, err)

	srv.closing.Store(true)
	_, err = srv.registry.Stop(ctx, "guild-a")
	require.NoError(t, err)
	assert.Empty(t, srv.spawner.Active())

	rec, err := srv.catalog.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionComplete, rec.Status)
	assert.Empty(t, rec.LastError, "left for the next start to resume")
}

func TestTranscriptionCancelledByShutdownIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	_, sess, err := srv.registry.Start(ctx, "guild-a", session.Channel{ID: "42"}, "")
	require.NoError(t, err)
	srv.closing.Store(true)
	_, err = srv.registry.Stop(ctx, "guild-a")
	require.NoError(t, err)

	srv.transcribed(&transcribe.Job{Dir: sess.Dir}, nil, context.Canceled)
	rec, err := srv.catalog.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.LastError)

	srv.closing.Store(false)
	srv.transcribed(&transcribe.Job{Dir: sess.Dir}, nil, assert.AnError)
	rec, err = srv.catalog.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, assert.AnError.Error(), rec.LastError)
}
