package session

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/store"
	"MeetingScribe/internal/timestamp"
	"MeetingScribe/pkg/config"
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/metrics"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateStopped
)

// eventWriterGrace bounds the wait for the event writer after a timed-out
// drain, before the store is closed.
const eventWriterGrace = 2 * time.Second

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	}
	return "uninitialized"
}

var (
	ErrSessionStopped = errors.WithCode(errors.CodeInvalidState, "session stopped")
	ErrNotStarted     = errors.WithCode(errors.CodeInvalidState, "session not started")
	ErrAlreadyStarted = errors.WithCode(errors.CodeInvalidState, "session already started")
)

// Options configure a Manager.
type Options struct {
	Root            string
	Location        *time.Location
	Clock           Clock
	StopTimeout     time.Duration
	MaxTracks       int
	EventQueueSize  int
	EventMaxRetries int
	Models          Models
	Metrics         *metrics.Metrics
	Disk            *metrics.DiskMonitor // refuses to start when the disk is full; optional
	OpenSink        SinkOpener

	// OnStarted runs once the first checkpoint is on disk. It must not call
	// back into the Manager. Optional.
	OnStarted func(sess Session)
	// OnStopped runs after the final checkpoint, e.g. to hand the session to
	// transcription. Optional.
	OnStopped func(sess Session, md *Metadata)
}

// OptionsFromConfig maps the process configuration onto Options.
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) Options {
	return Options{
		Root:            cfg.SessionsDir,
		Location:        cfg.Location(),
		StopTimeout:     cfg.StopTimeout,
		MaxTracks:       cfg.MaxTracks,
		EventQueueSize:  cfg.EventQueueSize,
		EventMaxRetries: cfg.EventMaxRetries,
		Models: Models{
			Transcriber: TranscriberModel{Model: cfg.WhisperModel, Device: cfg.Device, ComputeType: cfg.ComputeType},
			Summarizer:  SummarizerModel{Model: cfg.LLMModel},
		},
		Metrics: m,
	}
}

// Manager owns one recording session: its directory, store, event log,
// router and metadata checkpoints.
type Manager struct {
	opts Options
	meta *MetadataStore
	log  *zap.Logger

	mu     sync.RWMutex
	state  State
	sess   Session
	store  *store.Store
	events *EventLog
	router *Router

	ckptReq  chan struct{}
	ckptStop chan struct{}
	ckptDone chan struct{}
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.OpenSink == nil {
		opts.OpenSink = OpenWAV
	}
	return &Manager{opts: opts, meta: NewMetadataStore(), log: logger.Component("session")}
}

// Start creates the session directory and store, starts the writers and
// writes the first checkpoint. Failures here are session-fatal.
func (m *Manager) Start(ctx context.Context, ch Channel, title string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUninitialized {
		return nil, ErrAlreadyStarted
	}
	if m.opts.Disk != nil && !m.opts.Disk.HasRoom(ctx) {
		m.opts.Metrics.SessionFailed()
		return nil, errors.WithCode(errors.CodeSessionFatal, "not enough free disk space").WithContext("root", m.opts.Root)
	}

	start := m.opts.Clock().In(m.opts.Location).Round(time.Millisecond)
	id, dir, err := createDir(m.opts.Root, NewID(start, m.opts.Location))
	if err != nil {
		m.opts.Metrics.SessionFailed()
		return nil, errors.WrapCode(err, errors.CodeSessionFatal, "create session directory").WithContext("root", m.opts.Root)
	}
	st, err := store.Open(StorePath(dir), m.opts.Metrics)
	if err != nil {
		m.opts.Metrics.SessionFailed()
		return nil, errors.WrapCode(err, errors.CodeSessionFatal, "open session store").WithContext("session", id)
	}

	m.log = m.log.With(zap.String("session", id))
	m.sess = Session{ID: id, Dir: dir, Start: start, Title: title, Channel: ch}
	m.store = st
	m.events = NewEventLog(st, m.opts.EventQueueSize, m.opts.EventMaxRetries, m.log.With(zap.String("component", "eventlog")), m.opts.Metrics)
	m.router = newRouter(routerConfig{
		dir:       dir,
		start:     start,
		clock:     m.opts.Clock,
		open:      m.opts.OpenSink,
		maxTracks: m.opts.MaxTracks,
		log:       m.log.With(zap.String("component", "router")),
		metrics:   m.opts.Metrics,
		onJoin:    m.speakerJoined,
	})

	if err := m.meta.Checkpoint(MetadataPath(dir), m.snapshot(false)); err != nil {
		m.events.Stop(ctx)
		st.Close()
		m.opts.Metrics.SessionFailed()
		return nil, errors.WrapCode(err, errors.CodeSessionFatal, "write initial checkpoint").WithContext("session", id)
	}

	m.ckptReq = make(chan struct{}, 1)
	m.ckptStop = make(chan struct{})
	m.ckptDone = make(chan struct{})
	go m.checkpointLoop()

	m.state = StateActive
	m.opts.Metrics.SessionStarted()
	m.log.Info("session started", zap.String("dir", dir), zap.String("channel", ch.Name), zap.String("title", title))
	sess := m.sess
	if m.opts.OnStarted != nil {
		m.opts.OnStarted(sess)
	}
	return &sess, nil
}

// Sink is the AudioSink the voice transport should feed.
func (m *Manager) Sink() AudioSink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.router == nil {
		return nopSink{}
	}
	return m.router
}

// Router exposes the audio router for inspection.
func (m *Manager) Router() *Router {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.router
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Session() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess
}

// LogEvent records a voice-state transition. It is stamped now and
// persisted asynchronously.
func (m *Manager) LogEvent(sp Speaker, before, after VoiceState) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.activeLocked(); err != nil {
		return err
	}
	ts, off := m.stamp()
	return m.events.EnqueueEvent(&models.Event{
		Timestamp: ts,
		OffsetMs:  off,
		UserID:    sp.ID,
		UserName:  sp.DisplayName(),
		Before:    before.snapshot(),
		After:     after.snapshot(),
	})
}

// LogNote records a text note. It is stamped now and persisted asynchronously.
func (m *Manager) LogNote(sp Speaker, text string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.activeLocked(); err != nil {
		return err
	}
	ts, off := m.stamp()
	return m.events.EnqueueNote(&models.Note{
		Timestamp: ts,
		OffsetMs:  off,
		UserID:    sp.ID,
		UserName:  sp.DisplayName(),
		Content:   text,
	})
}

func (m *Manager) activeLocked() error {
	switch m.state {
	case StateActive:
		return nil
	case StateStopped:
		return ErrSessionStopped
	}
	return ErrNotStarted
}

func (m *Manager) stamp() (string, int64) {
	now := m.opts.Clock()
	return timestamp.Format(now.In(m.opts.Location)), timestamp.OffsetMs(m.sess.Start, now)
}

// speakerJoined runs on the transport goroutine for every new track,
// under the router lock; it must not block.
func (m *Manager) speakerJoined(tr *Track) {
	sp := tr.Speaker()
	if err := m.events.EnqueueUser(sp.userRecord(tr.JoinOffsetMs())); err != nil {
		m.log.Warn("participant row not queued", zap.String("speaker", sp.ID), zap.Error(err))
	}
	m.log.Info("speaker joined", zap.String("speaker", sp.ID), zap.String("name", sp.DisplayName()), zap.Int64("join_offset_ms", tr.JoinOffsetMs()))
	select {
	case m.ckptReq <- struct{}{}:
	default:
	}
}

// checkpointLoop coalesces incremental checkpoint requests.
func (m *Manager) checkpointLoop() {
	defer close(m.ckptDone)
	for {
		select {
		case <-m.ckptStop:
			return
		case <-m.ckptReq:
			m.checkpoint(m.snapshot(false))
		}
	}
}

func (m *Manager) checkpoint(md *Metadata) error {
	start := time.Now()
	err := m.meta.Checkpoint(MetadataPath(m.sess.Dir), md)
	m.opts.Metrics.ObserveCheckpoint(time.Since(start), err)
	if err != nil {
		m.log.Error("metadata checkpoint failed", zap.Error(err))
	}
	return err
}

// snapshot builds the metadata document from in-memory state. final adds
// session_end.
func (m *Manager) snapshot(final bool) *Metadata {
	md := &Metadata{
		SessionID:        m.sess.ID,
		SessionStart:     timestamp.Format(m.sess.Start),
		ParticipantCount: m.sess.ParticipantCount,
		Models:           m.opts.Models,
		Channel:          m.sess.Channel,
		Tracks:           []TrackInfo{},
	}
	if m.sess.Title != "" {
		title := m.sess.Title
		md.Title = &title
	}
	if m.router != nil {
		md.Tracks = m.router.infos()
	}
	if !final {
		n := 0
		for _, t := range md.Tracks {
			if !t.IsBot {
				n++
			}
		}
		md.ParticipantCount = n
	}
	if final && m.sess.End != nil {
		end := timestamp.Format(*m.sess.End)
		md.SessionEnd = &end
	}
	return md
}

// Stop ends the session exactly once: audio intake closes, tracks and the
// event log drain (each bounded by StopTimeout), participant_count is
// recomputed from the store and the final checkpoint is written.
func (m *Manager) Stop(ctx context.Context) (*Metadata, error) {
	m.mu.Lock()
	switch m.state {
	case StateUninitialized:
		m.mu.Unlock()
		return nil, ErrNotStarted
	case StateStopped:
		m.mu.Unlock()
		return nil, ErrSessionStopped
	}
	m.state = StateStopped
	m.mu.Unlock()

	m.router.closeIntake()

	stopCtx, cancel := context.WithTimeout(ctx, m.opts.StopTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if n, err := m.router.Stop(stopCtx); err != nil {
			m.log.Warn("tracks did not drain in time", zap.Int("tracks", n), zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := m.events.Stop(stopCtx); err != nil {
			m.log.Warn("event log did not drain in time", zap.Error(err))
		}
	}()
	wg.Wait()

	close(m.ckptStop)
	<-m.ckptDone

	if !m.events.Wait(eventWriterGrace) {
		m.log.Error("event writer still running, closing store under it", zap.Int("pending", m.events.Pending()))
	}

	n, err := m.store.CountParticipants(context.Background())
	if err != nil {
		m.log.Error("participant count query failed, using track count", zap.Error(err))
		n = m.snapshot(false).ParticipantCount
	}
	end := m.opts.Clock().In(m.opts.Location).Round(time.Millisecond)

	m.mu.Lock()
	m.sess.End = &end
	m.sess.ParticipantCount = n
	md := m.snapshot(true)
	sess := m.sess
	m.mu.Unlock()

	ckptErr := m.checkpoint(md)
	if err := m.store.Close(); err != nil {
		m.log.Warn("closing session store", zap.Error(err))
	}
	if ckptErr != nil {
		m.opts.Metrics.SessionFailed()
		return md, errors.WrapCode(ckptErr, errors.CodeSessionFatal, "write final checkpoint").WithContext("session", sess.ID)
	}

	m.opts.Metrics.SessionStopped()
	m.log.Info("session stopped",
		zap.Int("participants", n),
		zap.Int("tracks", len(md.Tracks)),
		zap.Int64("events_written", m.events.Written()),
		zap.Int64("events_lost", m.events.Lost()),
		zap.Duration("duration", end.Sub(sess.Start)))

	if m.opts.OnStopped != nil {
		m.opts.OnStopped(sess, md)
	}
	return md, nil
}

type nopSink struct{}

func (nopSink) PrefersRawAudio() bool { return true }
func (nopSink) Write(Speaker, []byte) {}
