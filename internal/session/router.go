package session

import (
	"MeetingScribe/pkg/metrics"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Router demultiplexes transport audio into per-speaker tracks.
type Router struct {
	dir       string
	start     time.Time
	clock     Clock
	open      SinkOpener
	maxTracks int
	log       *zap.Logger
	metrics   *metrics.Metrics
	onJoin    func(*Track)

	mu       sync.Mutex
	tracks   map[string]*Track
	order    []*Track
	rejected map[string]struct{}
	stopped  bool
}

var _ AudioSink = (*Router)(nil)

type routerConfig struct {
	dir       string
	start     time.Time
	clock     Clock
	open      SinkOpener
	maxTracks int
	log       *zap.Logger
	metrics   *metrics.Metrics
	onJoin    func(*Track) // called once per new track, under the router lock
}

func newRouter(cfg routerConfig) *Router {
	if cfg.open == nil {
		cfg.open = OpenWAV
	}
	return &Router{
		dir:       cfg.dir,
		start:     cfg.start,
		clock:     cfg.clock,
		open:      cfg.open,
		maxTracks: cfg.maxTracks,
		log:       cfg.log,
		metrics:   cfg.metrics,
		onJoin:    cfg.onJoin,
		tracks:    make(map[string]*Track),
		rejected:  make(map[string]struct{}),
	}
}

func (r *Router) PrefersRawAudio() bool { return true }

// Write routes one packet. The first packet of an unseen speaker opens its
// track and freezes its join offset; that packet is always forwarded.
func (r *Router) Write(sp Speaker, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	if tr := r.track(sp); tr != nil {
		tr.Enqueue(pcm)
	}
}

func (r *Router) track(sp Speaker) *Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	if tr, ok := r.tracks[sp.ID]; ok {
		return tr
	}
	if _, ok := r.rejected[sp.ID]; ok {
		return nil
	}
	if r.maxTracks > 0 && len(r.tracks) >= r.maxTracks {
		r.rejected[sp.ID] = struct{}{}
		r.metrics.TrackOpened("rejected")
		r.log.Warn("track limit reached, speaker not recorded", zap.String("speaker", sp.ID), zap.Int("max_tracks", r.maxTracks))
		return nil
	}

	now := r.clock()
	tr := newTrack(trackConfig{
		speaker:      sp,
		dir:          r.dir,
		joinOffsetMs: now.Sub(r.start).Milliseconds(),
		firstPacket:  now,
		clock:        r.clock,
		open:         r.open,
		log:          r.log,
		metrics:      r.metrics,
	})
	r.tracks[sp.ID] = tr
	r.order = append(r.order, tr)
	if r.onJoin != nil {
		r.onJoin(tr)
	}
	return tr
}

// Track returns the track of a speaker, if one was created.
func (r *Router) Track(id string) (*Track, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr, ok := r.tracks[id]
	return tr, ok
}

// Tracks returns all tracks in creation order.
func (r *Router) Tracks() []*Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Track(nil), r.order...)
}

// Rejected lists speakers turned away by the track limit.
func (r *Router) Rejected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rejected))
	for id := range r.rejected {
		out = append(out, id)
	}
	return out
}

func (r *Router) infos() []TrackInfo {
	tracks := r.Tracks()
	out := make([]TrackInfo, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, tr.Info())
	}
	return out
}

// closeIntake makes every later Write a no-op.
func (r *Router) closeIntake() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

// Stop closes intake and stops all tracks concurrently. Tracks that miss
// ctx are force-closed; the number of them is returned with the first error.
func (r *Router) Stop(ctx context.Context) (int, error) {
	r.closeIntake()
	tracks := r.Tracks()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		timedOut int
		firstErr error
	)
	for _, tr := range tracks {
		wg.Add(1)
		go func(tr *Track) {
			defer wg.Done()
			if err := tr.Stop(ctx); err != nil {
				mu.Lock()
				timedOut++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(tr)
	}
	wg.Wait()
	return timedOut, firstErr
}
