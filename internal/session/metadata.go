package session

import (
	"MeetingScribe/internal/timestamp"
	"MeetingScribe/pkg/logger"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Metadata is the checkpointed metadata.json document. Join offsets live in
// the users relation of the session store, not here.
type Metadata struct {
	SessionID        string      `json:"session_id"`
	SessionStart     string      `json:"session_start"`
	SessionEnd       *string     `json:"session_end"`
	Title            *string     `json:"title"`
	ParticipantCount int         `json:"participant_count"`
	Models           Models      `json:"models"`
	Channel          Channel     `json:"channel"`
	Tracks           []TrackInfo `json:"tracks"`
}

// Models records the configuration the downstream stages should use.
type Models struct {
	Transcriber TranscriberModel `json:"transcriber"`
	Summarizer  SummarizerModel  `json:"summarizer"`
}

type TranscriberModel struct {
	Model       string `json:"model"`
	Device      string `json:"device"`
	ComputeType string `json:"compute_type"`
}

type SummarizerModel struct {
	Model string `json:"model"`
}

// TrackInfo is one participant's audio file entry.
type TrackInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	File   string `json:"file"`
	IsBot  bool   `json:"is_bot"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Complete reports whether the session was stopped cleanly.
func (m *Metadata) Complete() bool { return m != nil && m.SessionEnd != nil }

func (m *Metadata) StartTime() (time.Time, error) {
	return timestamp.Parse(m.SessionStart)
}

func (m *Metadata) EndTime() (time.Time, bool) {
	if m.SessionEnd == nil {
		return time.Time{}, false
	}
	t, err := timestamp.Parse(*m.SessionEnd)
	return t, err == nil
}

// Track looks up a track entry by speaker id.
func (m *Metadata) Track(id string) (TrackInfo, bool) {
	for _, t := range m.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return TrackInfo{}, false
}

// MetadataStore writes checkpoints atomically: readers see either the
// previous document or the new one, never a partial file.
type MetadataStore struct {
	rename func(oldpath, newpath string) error
}

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{rename: os.Rename}
}

// Checkpoint writes doc to path via path.tmp + fsync + rename.
func (s *MetadataStore) Checkpoint(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// Load returns the document at path, or def when it is missing or cannot
// be parsed. Parse failures are logged.
func (s *MetadataStore) Load(path string, def *Metadata) *Metadata {
	md, err := ReadMetadata(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("metadata unreadable, using default", zap.String("path", path), zap.Error(err))
		}
		return def
	}
	return md
}

// ReadMetadata parses path strictly.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if md.SessionID == "" || md.SessionStart == "" {
		return nil, fmt.Errorf("parse %s: missing session_id or session_start", path)
	}
	return &md, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
