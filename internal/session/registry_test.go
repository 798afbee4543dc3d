package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryOneSessionPerKey(t *testing.T) {
	clock := startClock()
	reg := NewRegistry(testOptions(t, clock, newSinkFactory()))

	mgr, sess, err := reg.Start(context.Background(), "guild-a", Channel{ID: "1"}, "")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "guild-a", sess.Channel.GuildID)

	_, _, err = reg.Start(context.Background(), "guild-a", Channel{ID: "1"}, "")
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	clock.Advance(time.Millisecond)
	_, _, err = reg.Start(context.Background(), "guild-b", Channel{ID: "2"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"guild-a", "guild-b"}, reg.Keys())

	got, ok := reg.Get("guild-a")
	require.True(t, ok)
	assert.Same(t, mgr, got)

	md, err := reg.Stop(context.Background(), "guild-a")
	require.NoError(t, err)
	assert.True(t, md.Complete())
	_, ok = reg.Get("guild-a")
	assert.False(t, ok)

	_, err = reg.Stop(context.Background(), "guild-a")
	assert.ErrorIs(t, err, ErrNotRecording)

	errs := reg.StopAll(context.Background())
	assert.Empty(t, errs)
	assert.Zero(t, reg.Len())
}
