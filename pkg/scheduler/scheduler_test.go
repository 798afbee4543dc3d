package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryRunsImmediatelyAndRepeats(t *testing.T) {
	s := New()
	var n atomic.Int32
	s.Every("count", 10*time.Millisecond, FuncJob(func(ctx context.Context) { n.Add(1) }))

	assert.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, n.Load(), "no runs after Stop")
}

func TestOnceAfterCancelled(t *testing.T) {
	s := New()
	var ran atomic.Bool
	s.OnceAfter("never", time.Hour, FuncJob(func(ctx context.Context) { ran.Store(true) }))
	s.Stop()
	assert.False(t, ran.Load())
}

func TestPanickingJobIsRecovered(t *testing.T) {
	s := New()
	done := make(chan struct{})
	s.OnceAfter("boom", time.Millisecond, FuncJob(func(ctx context.Context) {
		defer close(done)
		panic("boom")
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
	s.Stop()
}

func TestCronAdd(t *testing.T) {
	c := NewCron(time.UTC)
	_, err := c.Add("bad", "not a spec", FuncJob(func(ctx context.Context) {}))
	assert.Error(t, err)

	_, err = c.Add("nightly", "0 3 * * *", FuncJob(func(ctx context.Context) {}))
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	c.Start()
	c.Stop()
}
