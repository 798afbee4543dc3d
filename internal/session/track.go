package session

import (
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/metrics"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SilenceFrames is the number of silence frames inserted before a packet
// that arrives gap after the previous one. The packet itself fills the last
// 20 ms slot, so a gap of n frames needs n-1 frames of padding; runs are
// capped at MaxSilenceRun.
func SilenceFrames(gap time.Duration) int {
	frames := int(gap / FrameDuration)
	if frames <= 1 {
		return 0
	}
	if frames-1 > MaxSilenceRun {
		return MaxSilenceRun
	}
	return frames - 1
}

// Track writes one participant's audio. Enqueue is called on the transport
// goroutine and never touches the disk; a dedicated goroutine drains the
// queue into the sink.
type Track struct {
	speaker      Speaker
	path         string
	file         string
	joinOffsetMs int64
	clock        Clock
	log          *zap.Logger
	metrics      *metrics.Metrics

	mu   sync.Mutex // gap computation and queue order
	last time.Time
	q    *fifo

	sinkMu sync.Mutex
	sink   Sink

	stateMu sync.Mutex
	state   string
	err     error

	bytes         atomic.Int64
	silence       atomic.Int64
	warnedPartial atomic.Bool
	done          chan struct{}
	stopOnce      sync.Once
}

type trackConfig struct {
	speaker      Speaker
	dir          string
	joinOffsetMs int64
	firstPacket  time.Time
	clock        Clock
	open         SinkOpener
	log          *zap.Logger
	metrics      *metrics.Metrics
}

// newTrack opens the sink and starts the drain goroutine. If the sink
// cannot be opened the track is returned already errored.
func newTrack(cfg trackConfig) *Track {
	t := &Track{
		speaker:      cfg.speaker,
		path:         TrackPath(cfg.dir, cfg.speaker.ID),
		file:         TrackFile(cfg.speaker.ID),
		joinOffsetMs: cfg.joinOffsetMs,
		clock:        cfg.clock,
		log:          cfg.log.With(zap.String("speaker", cfg.speaker.ID)),
		metrics:      cfg.metrics,
		last:         cfg.firstPacket,
		q:            newFIFO(),
		state:        TrackRunning,
		done:         make(chan struct{}),
	}
	sink, err := cfg.open(t.path)
	if err != nil {
		t.state = TrackErrored
		t.err = errors.WrapCode(err, errors.CodeTrackFatal, "open track sink").WithContext("speaker", cfg.speaker.ID)
		t.log.Error("track disabled, sink open failed", zap.String("path", t.path), zap.Error(err))
		t.metrics.TrackOpened("errored")
		t.q.close()
		close(t.done)
		return t
	}
	t.sink = sink
	t.metrics.TrackOpened("ok")
	go t.run()
	return t
}

func (t *Track) Speaker() Speaker    { return t.speaker }
func (t *Track) Path() string        { return t.path }
func (t *Track) JoinOffsetMs() int64 { return t.joinOffsetMs }

// BytesWritten counts payload and silence bytes handed to the sink.
func (t *Track) BytesWritten() int64 { return t.bytes.Load() }

// FramesWritten is BytesWritten in 20 ms frames.
func (t *Track) FramesWritten() int64 { return t.bytes.Load() / FrameBytes }

func (t *Track) SilenceFrames() int64 { return t.silence.Load() }

// Duration is the playback length of what has been written so far.
func (t *Track) Duration() time.Duration {
	return time.Duration(float64(t.bytes.Load()) / (SampleRate * Channels * bytesPerSample) * float64(time.Second))
}

// Status returns the track state and, for errored tracks, the cause.
func (t *Track) Status() (string, error) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state, t.err
}

func (t *Track) Info() TrackInfo {
	state, err := t.Status()
	info := TrackInfo{
		ID:     t.speaker.ID,
		Name:   t.speaker.DisplayName(),
		File:   t.file,
		IsBot:  t.speaker.IsBot,
		Status: state,
	}
	if err != nil {
		info.Error = err.Error()
	}
	return info
}

// Enqueue queues pcm behind the silence needed to cover the gap since the
// previous packet. It returns false when the payload is discarded because
// the track is stopped or errored. pcm is copied.
func (t *Track) Enqueue(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}
	if state, _ := t.Status(); state != TrackRunning {
		return false
	}
	// 补齐到完整的采样对，否则后续声道会错位
	size := len(pcm)
	if rem := size % SampleFrameBytes; rem != 0 {
		size += SampleFrameBytes - rem
		if t.warnedPartial.CompareAndSwap(false, true) {
			t.log.Warn("payload not a whole number of sample pairs, zero-padded", zap.Int("bytes", len(pcm)))
		}
	}
	buf := make([]byte, size)
	copy(buf, pcm)

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	silence := 0
	if !t.last.IsZero() {
		silence = SilenceFrames(now.Sub(t.last))
	}
	t.last = now
	return t.q.push(chunk{silence: silence, pcm: buf})
}

func (t *Track) run() {
	defer close(t.done)
	for {
		c, ok := t.q.pop()
		if !ok {
			break
		}
		t.write(c)
	}

	t.sinkMu.Lock()
	defer t.sinkMu.Unlock()
	if t.sink == nil {
		return
	}
	err := t.sink.Close()
	t.sink = nil
	t.metrics.TrackClosed()
	if err != nil {
		t.setErrored(errors.WrapCode(err, errors.CodeTrackFatal, "close track sink"))
		return
	}
	t.setState(TrackStopped)
}

func (t *Track) write(c chunk) {
	t.sinkMu.Lock()
	defer t.sinkMu.Unlock()
	if t.sink == nil {
		return
	}
	if state, _ := t.Status(); state == TrackErrored {
		return
	}
	if c.silence > 0 {
		if err := t.sink.WriteSilence(c.silence); err != nil {
			t.fail(err)
			return
		}
		t.silence.Add(int64(c.silence))
		t.bytes.Add(int64(c.silence) * FrameBytes)
		t.metrics.AddSilenceFrames(c.silence)
	}
	if err := t.sink.WritePCM(c.pcm); err != nil {
		t.fail(err)
		return
	}
	t.bytes.Add(int64(len(c.pcm)))
	t.metrics.RecordPacket(len(c.pcm))
}

// fail disables the track after a write error. Called with sinkMu held.
func (t *Track) fail(err error) {
	t.setErrored(errors.WrapCode(err, errors.CodeTrackFatal, "write track sink").WithContext("speaker", t.speaker.ID))
	dropped := t.q.discard()
	t.log.Error("track write failed, discarding its audio", zap.Error(err), zap.Int("dropped", dropped))
}

func (t *Track) setErrored(err error) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.state == TrackErrored {
		return
	}
	t.state = TrackErrored
	t.err = err
}

func (t *Track) setState(s string) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.state == TrackRunning {
		t.state = s
	}
}

// Stop stops intake and waits for everything already queued to reach the
// sink. When ctx expires first, the track is marked errored, the remaining
// queue is dropped, the sink is closed as soon as the in-flight write
// returns, and the ctx error is returned.
func (t *Track) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.q.close()
		t.mu.Unlock()
	})
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
	}

	dropped := t.q.discard()
	timeout := errors.WrapCode(ctx.Err(), errors.CodeTransient, "track drain timed out").WithContext("speaker", t.speaker.ID)
	// the final checkpoint is written right after Stop returns
	t.setErrored(timeout)
	t.log.Warn("track drain timed out, forcing close", zap.Int("dropped", dropped))
	go func() {
		t.sinkMu.Lock()
		defer t.sinkMu.Unlock()
		if t.sink == nil {
			return
		}
		if err := t.sink.Close(); err != nil {
			t.log.Error("forced sink close failed", zap.Error(err))
		}
		t.sink = nil
		t.metrics.TrackClosed()
	}()
	return timeout
}

// Done is closed when the drain goroutine has exited.
func (t *Track) Done() <-chan struct{} { return t.done }
