package transcribe

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"MeetingScribe/internal/store"
	"MeetingScribe/internal/timestamp"
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/metrics"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

var errInvalidWAV = errors.New("not a valid WAV file")

// TimelineFile is written next to the store after transcription.
const TimelineFile = "timeline.txt"

// minTrackLength skips tracks too short to contain speech.
const minTrackLength = 200 * time.Millisecond

// Pipeline transcribes a finished session: it waits for the final
// metadata, runs every participant track through the engine, converts
// segment offsets to absolute timestamps and rewrites the transcripts
// relation in timestamp order.
type Pipeline struct {
	Engine      Engine
	Model       string
	Device      string
	ComputeType string
	Language    string
	// Location overrides the session timezone for transcript timestamps.
	Location   *time.Location
	Retries    int
	RetryDelay time.Duration
	Metrics    *metrics.Metrics
}

// Result summarizes one run.
type Result struct {
	SessionID string
	Tracks    int
	Skipped   int
	Failed    int
	Segments  int
}

// Run transcribes the session in dir. It is safe to re-run.
func (p *Pipeline) Run(ctx context.Context, dir string) (*Result, error) {
	log := logger.Component("transcribe", zap.String("dir", dir))
	md, err := p.waitForMetadata(ctx, dir)
	if err != nil {
		p.Metrics.RecordTranscriptionJob("missing_metadata", 0)
		return nil, err
	}
	log = log.With(zap.String("session", md.SessionID))

	start, err := md.StartTime()
	if err != nil {
		return nil, errors.Wrap(err, "parse session_start").WithContext("session", md.SessionID)
	}
	loc := p.Location
	if loc == nil {
		loc = start.Location()
	}

	st, err := store.OpenDir(dir, p.Metrics)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	users, err := st.Users(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{SessionID: md.SessionID}
	var rows []models.Transcript
	for _, u := range users {
		if u.IsBot {
			continue
		}
		if info, ok := md.Track(u.UserID); ok && info.Status == session.TrackErrored {
			log.Warn("skipping errored track", zap.String("speaker", u.UserID), zap.String("error", info.Error))
			res.Skipped++
			continue
		}
		path := session.TrackPath(dir, u.UserID)
		length, err := ProbeWAV(path)
		if err != nil {
			log.Warn("skipping unreadable track", zap.String("speaker", u.UserID), zap.Error(err))
			res.Skipped++
			continue
		}
		if length < minTrackLength {
			res.Skipped++
			continue
		}

		began := time.Now()
		segs, err := p.Engine.Transcribe(ctx, Request{
			Path:        path,
			Model:       or(p.Model, md.Models.Transcriber.Model),
			Device:      or(p.Device, md.Models.Transcriber.Device),
			ComputeType: or(p.ComputeType, md.Models.Transcriber.ComputeType),
			Language:    p.Language,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error("track transcription failed", zap.String("speaker", u.UserID), zap.Error(err))
			res.Failed++
			continue
		}
		res.Tracks++
		rows = append(rows, Rows(start, u, segs, loc)...)
		log.Info("track transcribed",
			zap.String("speaker", u.UserID),
			zap.Int("segments", len(segs)),
			zap.Duration("audio", length),
			zap.Duration("took", time.Since(began)))
	}
	if res.Tracks == 0 && res.Failed > 0 {
		p.Metrics.RecordTranscriptionJob("failed", 0)
		return res, errors.Errorf("all %d tracks failed", res.Failed).WithContext("session", md.SessionID)
	}

	if err := st.ClearTranscripts(ctx); err != nil {
		return res, err
	}
	if err := st.InsertTranscripts(ctx, rows); err != nil {
		return res, err
	}
	if err := st.RebuildTranscripts(ctx); err != nil {
		return res, err
	}
	res.Segments = len(rows)

	if err := WriteTimeline(ctx, st, md, filepath.Join(dir, TimelineFile)); err != nil {
		log.Warn("timeline not written", zap.Error(err))
	}
	p.Metrics.RecordTranscriptionJob("ok", res.Segments)
	log.Info("session transcribed", zap.Int("tracks", res.Tracks), zap.Int("segments", res.Segments), zap.Int("skipped", res.Skipped), zap.Int("failed", res.Failed))
	return res, nil
}

// Rows converts engine segments of one participant into transcript rows
// with absolute timestamps.
func Rows(start time.Time, u models.User, segs []Segment, loc *time.Location) []models.Transcript {
	name := u.UserName
	if u.NickName != nil && *u.NickName != "" {
		name = *u.NickName
	}
	out := make([]models.Transcript, 0, len(segs))
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		out = append(out, models.Transcript{
			Timestamp:    timestamp.Reconstruct(start, u.JoinOffsetMs, s.Start, loc),
			UserID:       u.UserID,
			UserName:     name,
			Text:         text,
			SegmentStart: s.Start,
			SegmentEnd:   s.End,
		})
	}
	return out
}

// waitForMetadata polls until the session has been stopped cleanly.
func (p *Pipeline) waitForMetadata(ctx context.Context, dir string) (*session.Metadata, error) {
	attempts := p.Retries
	if attempts <= 0 {
		attempts = 1
	}
	path := session.MetadataPath(dir)
	var lastErr error
	for i := 0; i < attempts; i++ {
		md, err := session.ReadMetadata(path)
		switch {
		case err == nil && md.Complete():
			return md, nil
		case err == nil:
			lastErr = errors.New("session still recording")
		default:
			lastErr = err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.RetryDelay):
		}
	}
	return nil, errors.WrapCode(lastErr, errors.CodeMissingDependency, "metadata not ready").WithContext("path", path)
}

// WriteTimeline renders the merged session timeline to path.
func WriteTimeline(ctx context.Context, st *store.Store, md *session.Metadata, path string) error {
	tl, err := st.BuildTimeline(ctx)
	if err != nil {
		return err
	}
	date := ""
	if t, err := md.StartTime(); err == nil {
		date = t.Format("2006-01-02")
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := tl.Render(f, date); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func or(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
