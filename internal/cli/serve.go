package cli

import (
	"MeetingScribe/internal/catalog"
	handlers "MeetingScribe/internal/handler"
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"MeetingScribe/internal/transcribe"
	"MeetingScribe/pkg/backup"
	"MeetingScribe/pkg/cache"
	"MeetingScribe/pkg/config"
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/metrics"
	"MeetingScribe/pkg/middleware"
	"MeetingScribe/pkg/scheduler"
	"MeetingScribe/pkg/search"
	"MeetingScribe/pkg/sse"
	"MeetingScribe/pkg/storage"
	"MeetingScribe/pkg/websocket"
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 15 * time.Second
	transcribeGrace = 30 * time.Second
	catalogTimeout  = 5 * time.Second
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder: control API, audio ingest and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := newServer(deps.Config, deps.Metrics)
			if err != nil {
				return err
			}
			srv.resume = resume
			return srv.run(ctx)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume-transcriptions", true, "Transcribe finished sessions that were never transcribed")
	return cmd
}

// server wires the recorder process together.
type server struct {
	cfg *config.Config
	m   *metrics.Metrics
	log *zap.Logger

	catalog  *catalog.Catalog
	cache    cache.Cache
	disk     *metrics.DiskMonitor
	spawner  *transcribe.Spawner
	archive  storage.Store // nil unless archiving is enabled
	search   search.Engine // nil when disabled
	events   *sse.Hub
	registry *session.Registry
	handlers *handlers.Handlers

	resume bool
	// closing is set once shutdown begins; sessions stopped from then on
	// are transcribed on the next start instead.
	closing atomic.Bool
}

func newServer(cfg *config.Config, m *metrics.Metrics) (*server, error) {
	s := &server{cfg: cfg, m: m, log: logger.Component("server")}

	if err := os.MkdirAll(cfg.SessionsDir, 0o755); err != nil {
		return nil, err
	}
	cat, err := catalog.Open(cfg.DBDriver, cfg.DSN, m)
	if err != nil {
		return nil, err
	}
	s.catalog = cat

	c, err := cache.NewCache(cache.Config{
		Type:  cfg.CacheType,
		Redis: cache.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
	})
	if err != nil {
		cat.Close()
		return nil, err
	}
	s.cache = c

	if cfg.ArchiveEnabled {
		if cfg.Minio.Configured() {
			s.archive = storage.NewMinioStore(cfg.Minio)
		} else {
			s.log.Warn("archiving enabled but MINIO_ENDPOINT/MINIO_BUCKET unset, archiving disabled")
		}
	}

	if cfg.SearchEnabled {
		eng, err := openSearch(cfg)
		if err != nil {
			c.Close()
			cat.Close()
			return nil, err
		}
		s.search = eng
	}
	s.events = sse.NewHub(30 * time.Second)

	s.spawner = transcribe.NewSpawner(newPipeline(cfg, m))
	s.spawner.OnDone = s.transcribed

	s.disk = metrics.NewDiskMonitor(cfg.SessionsDir, uint64(cfg.MinFreeMB)<<20, m)
	opts := session.OptionsFromConfig(cfg, m)
	opts.Disk = s.disk
	opts.OnStarted = s.started
	opts.OnStopped = s.stopped
	s.registry = session.NewRegistry(opts)

	s.handlers = handlers.NewHandlers(handlers.Options{
		Registry: s.registry,
		Catalog:  s.catalog,
		Cache:    s.cache,
		Root:     cfg.SessionsDir,
		Secret:   cfg.APISecret,
		RateLimit: middleware.RateLimiterConfig{
			Rate:       cfg.RateLimit,
			Identifier: "guild",
			SkipPaths:  []string{"/healthz"},
			AddHeaders: true,
		},
		WebSocket: websocket.LoadConfigFromEnv(),
		Metrics:   m,
		Search:    s.search,
		Events:    s.events,
	})
	return s, nil
}

// started runs under the session manager's lock.
func (s *server) started(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
	defer cancel()
	if err := s.catalog.MarkActive(ctx, sess.ID, sess.Dir, sess.Start); err != nil {
		s.log.Warn("catalog: mark active failed", zap.String("session", sess.ID), zap.Error(err))
	}
	s.publish("session_started", sess.Channel.GuildID, sess.ID, nil)
}

func (s *server) publish(typ, guild, id string, extra map[string]any) {
	data := map[string]any{"session_id": id}
	for k, v := range extra {
		data[k] = v
	}
	s.events.Publish(sse.Event{Type: typ, Group: guild, Data: data})
}

// index refreshes the search documents of a session; notes are searchable
// as soon as recording stops, transcripts once transcription finishes.
func (s *server) index(ctx context.Context, dir string) {
	if s.search == nil {
		return
	}
	if _, err := catalog.IndexSession(ctx, s.search, dir); err != nil {
		s.log.Warn("search: indexing failed", zap.String("dir", dir), zap.Error(err))
	}
}

func (s *server) stopped(sess session.Session, md *session.Metadata) {
	ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
	defer cancel()
	if err := s.catalog.Record(ctx, session.Inspect(sess.Dir)); err != nil {
		s.log.Warn("catalog: record failed", zap.String("session", sess.ID), zap.Error(err))
	}
	s.index(ctx, sess.Dir)
	s.publish("session_stopped", sess.Channel.GuildID, sess.ID, map[string]any{"participant_count": md.ParticipantCount})
	if s.closing.Load() {
		s.log.Info("shutting down, transcription deferred to next start", zap.String("session", sess.ID))
		return
	}
	s.spawner.Spawn(sess.Dir)
}

func (s *server) transcribed(job *transcribe.Job, _ *transcribe.Result, runErr error) {
	id := filepath.Base(job.Dir)
	if runErr != nil && s.closing.Load() && errors.Is(runErr, context.Canceled) {
		// interrupted, not failed: recoverSessions retries it
		s.log.Info("transcription interrupted by shutdown", zap.String("session", id))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
	defer cancel()
	if err := s.catalog.MarkTranscribed(ctx, id, runErr); err != nil {
		s.log.Warn("catalog: mark transcribed failed", zap.String("session", id), zap.Error(err))
	}
	guild := ""
	if md := session.Inspect(job.Dir).Metadata; md != nil {
		guild = md.Channel.GuildID
	}
	if runErr != nil {
		s.publish("transcription_failed", guild, id, map[string]any{"error": runErr.Error()})
		return
	}
	s.index(ctx, job.Dir)
	s.publish("session_transcribed", guild, id, nil)
	if s.archive == nil {
		return
	}
	actx, acancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer acancel()
	if _, err := backup.ArchiveSession(actx, s.archive, job.Dir); err != nil {
		s.log.Error("archive failed", zap.String("session", id), zap.Error(err))
	}
}

// liveIDs lists sessions currently recording; sweeps must not touch them.
func (s *server) liveIDs() map[string]bool {
	live := make(map[string]bool)
	for _, key := range s.registry.Keys() {
		if mgr, ok := s.registry.Get(key); ok {
			live[mgr.Session().ID] = true
		}
	}
	return live
}

func (s *server) sweep(ctx context.Context) {
	n, err := s.catalog.Sync(ctx, s.cfg.SessionsDir, s.liveIDs())
	if err != nil {
		s.log.Error("catalog sweep failed", zap.Error(err))
		return
	}
	s.log.Debug("catalog sweep finished", zap.Int("sessions", n))
}

func (s *server) runBackup(ctx context.Context) {
	n, err := backupFinished(ctx, s.cfg.SessionsDir, s.cfg.BackupPath, s.liveIDs())
	if err != nil {
		s.log.Error("backup pass failed", zap.Error(err))
		return
	}
	s.log.Info("backup pass finished", zap.Int("sessions", n), zap.String("dst", s.cfg.BackupPath))
}

func (s *server) sampleDisk(ctx context.Context) {
	st, err := s.disk.Sample(ctx)
	if err != nil {
		s.log.Warn("disk sample failed", zap.Error(err))
		return
	}
	if s.disk.MinFreeBytes > 0 && st.Free < s.disk.MinFreeBytes {
		s.log.Warn("sessions volume low on space", zap.Uint64("free", st.Free), zap.Uint64("min_free", s.disk.MinFreeBytes))
	}
}

// recoverSessions indexes everything on disk (Sync reports sessions a crash
// left unfinished) and queues finished sessions that were never transcribed.
func (s *server) recoverSessions(ctx context.Context) {
	s.sweep(ctx)
	if !s.resume {
		return
	}
	pending, err := s.catalog.List(ctx, models.SessionComplete, 0)
	if err != nil {
		s.log.Warn("listing pending transcriptions failed", zap.Error(err))
		return
	}
	for _, rec := range pending {
		if rec.LastError != "" {
			continue // failed before; left for a manual "scribe transcribe"
		}
		s.log.Info("resuming transcription", zap.String("session", rec.ID))
		s.spawner.Spawn(rec.Dir)
	}
}

func (s *server) run(ctx context.Context) error {
	defer s.close()
	s.recoverSessions(ctx)

	sched := scheduler.New()
	defer sched.Stop()
	sched.Every("disk-usage", time.Minute, scheduler.FuncJob(s.sampleDisk))

	cron := scheduler.NewCron(s.cfg.Location())
	if _, err := cron.Add("catalog-sweep", s.cfg.SweepSchedule, scheduler.FuncJob(s.sweep)); err != nil {
		return err
	}
	if s.cfg.BackupEnabled {
		if _, err := cron.Add("session-backup", s.cfg.BackupSchedule, scheduler.FuncJob(s.runBackup)); err != nil {
			return err
		}
	}
	cron.Start()
	defer cron.Stop()

	if s.cfg.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	s.handlers.Register(engine)

	api := &http.Server{Addr: s.cfg.HTTPAddr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.m.Handler())
	metricsSrv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	for _, hs := range []*http.Server{api, metricsSrv} {
		go func(hs *http.Server) {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(hs)
	}
	s.log.Info("recorder listening",
		zap.String("api", s.cfg.HTTPAddr),
		zap.String("metrics", s.cfg.MetricsAddr),
		zap.String("sessions", s.cfg.SessionsDir))

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("shutting down")
	case runErr = <-errCh:
		s.log.Error("listener failed", zap.Error(runErr))
	}

	s.closing.Store(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.handlers.Close()
	s.events.Close()
	for _, hs := range []*http.Server{api, metricsSrv} {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown", zap.Error(err))
		}
	}
	for key, err := range s.registry.StopAll(shutdownCtx) {
		s.log.Error("stopping session failed", zap.String("guild", key), zap.Error(err))
	}
	if err := s.spawner.Shutdown(transcribeGrace); err != nil {
		s.log.Warn("transcription jobs still running at exit", zap.Error(err))
	}
	return runErr
}

func (s *server) close() {
	if s.search != nil {
		if err := s.search.Close(); err != nil {
			s.log.Warn("closing search index", zap.Error(err))
		}
	}
	if err := s.cache.Close(); err != nil {
		s.log.Warn("closing cache", zap.Error(err))
	}
	if err := s.catalog.Close(); err != nil {
		s.log.Warn("closing catalog", zap.Error(err))
	}
}
