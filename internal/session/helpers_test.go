package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memSink records what a track writes. failAfter > 0 makes the n-th
// WritePCM call fail; gate, when set, blocks every write until closed.
type memSink struct {
	mu        sync.Mutex
	pcm       int
	silence   int
	writes    int
	failAfter int
	gate      chan struct{}
	closed    bool
	order     []string
}

func (s *memSink) WritePCM(pcm []byte) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failAfter > 0 && s.writes >= s.failAfter {
		return fmt.Errorf("disk full")
	}
	s.pcm += len(pcm)
	s.order = append(s.order, string(pcm))
	return nil
}

func (s *memSink) WriteSilence(frames int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silence += frames
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) snapshot() (pcm, silence int, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pcm, s.silence, s.closed
}

// sinkFactory hands out memSinks and fails to open the listed paths. A
// non-nil gate is shared by every sink it opens.
type sinkFactory struct {
	mu    sync.Mutex
	sinks map[string]*memSink
	fail  map[string]bool
	gate  chan struct{}
}

func newSinkFactory(failIDs ...string) *sinkFactory {
	f := &sinkFactory{sinks: map[string]*memSink{}, fail: map[string]bool{}}
	for _, id := range failIDs {
		f.fail[id] = true
	}
	return f
}

func (f *sinkFactory) open(path string) (Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.fail {
		if filepath.Base(path) == filepath.Base(TrackFile(id)) {
			return nil, fmt.Errorf("permission denied")
		}
	}
	s := &memSink{gate: f.gate}
	f.sinks[path] = s
	return s, nil
}

func (f *sinkFactory) get(path string) *memSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinks[path]
}

func frame(b byte) []byte {
	p := make([]byte, FrameBytes)
	for i := range p {
		p[i] = b
	}
	return p
}
