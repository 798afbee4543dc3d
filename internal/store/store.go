package store

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/metrics"
	"MeetingScribe/pkg/util"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileName is the durable store inside a session directory.
const FileName = "meeting.db"

// Store is the per-session relational store holding events, notes, users
// and transcripts.
type Store struct {
	db   *gorm.DB
	path string
}

// Open opens (creating if needed) the SQLite store at path and migrates it.
// m may be nil.
func Open(path string, m *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapCode(err, errors.CodeSessionFatal, "create store directory")
	}
	db, err := util.OpenDatabase("sqlite", util.SQLiteFileDSN(path))
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeSessionFatal, "open store").WithContext("path", path)
	}
	if m != nil {
		if err := db.Use(metrics.NewGormPlugin(m)); err != nil {
			return nil, errors.Wrap(err, "register metrics plugin")
		}
	}
	s := &Store{db: db, path: path}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, errors.WrapCode(err, errors.CodeSessionFatal, "migrate store").WithContext("path", path)
	}
	return s, nil
}

// OpenDir opens the store of a session directory.
func OpenDir(sessionDir string, m *metrics.Metrics) (*Store, error) {
	return Open(filepath.Join(sessionDir, FileName), m)
}

// Migrate creates the relations if they are missing.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&models.Event{}, &models.Note{}, &models.User{}, &models.Transcript{})
}

func (s *Store) Path() string { return s.path }

// DB exposes the underlying handle for maintenance tasks.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) InsertEvent(ctx context.Context, ev *models.Event) error {
	return transient(s.db.WithContext(ctx).Create(ev).Error, "insert event")
}

func (s *Store) InsertNote(ctx context.Context, n *models.Note) error {
	return transient(s.db.WithContext(ctx).Create(n).Error, "insert note")
}

// UpsertUser inserts a participant or refreshes its names. The join offset
// of an existing row is never changed.
func (s *Store) UpsertUser(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_name", "nick_name", "is_bot"}),
	}).Create(u).Error
	return transient(err, "upsert user")
}

// CountParticipants counts non-bot users.
func (s *Store) CountParticipants(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("is_bot = ?", false).Count(&n).Error
	return int(n), transient(err, "count participants")
}

func (s *Store) Users(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("join_offset_ms, user_id").Find(&users).Error
	return users, transient(err, "list users")
}

// User returns the participant row, or a missing-dependency error.
func (s *Store) User(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithCodef(errors.CodeMissingDependency, "user %s not recorded", userID)
	}
	if err != nil {
		return nil, transient(err, "get user")
	}
	return &u, nil
}

func (s *Store) Events(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := s.db.WithContext(ctx).Order("offset_ms, id").Find(&events).Error
	return events, transient(err, "list events")
}

func (s *Store) Notes(ctx context.Context) ([]models.Note, error) {
	var notes []models.Note
	err := s.db.WithContext(ctx).Order("offset_ms, id").Find(&notes).Error
	return notes, transient(err, "list notes")
}

func (s *Store) Transcripts(ctx context.Context) ([]models.Transcript, error) {
	var rows []models.Transcript
	err := s.db.WithContext(ctx).Order("id").Find(&rows).Error
	return rows, transient(err, "list transcripts")
}

// InsertTranscripts bulk-inserts rows in one transaction.
func (s *Store) InsertTranscripts(ctx context.Context, rows []models.Transcript) error {
	if len(rows) == 0 {
		return nil
	}
	return transient(s.db.WithContext(ctx).CreateInBatches(rows, 200).Error, "insert transcripts")
}

// ClearTranscripts removes previous transcription output, making reruns idempotent.
func (s *Store) ClearTranscripts(ctx context.Context) error {
	return transient(s.db.WithContext(ctx).Where("1 = 1").Delete(&models.Transcript{}).Error, "clear transcripts")
}

// RebuildTranscripts replaces the transcripts relation with a copy sorted by
// timestamp, renumbering ids, and recreates the timestamp index. Running it
// twice yields the same table.
func (s *Store) RebuildTranscripts(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmts := []string{
			`DROP TABLE IF EXISTS transcripts_new`,
			`CREATE TABLE transcripts_new (
				id integer PRIMARY KEY AUTOINCREMENT,
				timestamp text NOT NULL,
				user_id text NOT NULL,
				user_name text,
				text text NOT NULL,
				segment_start real,
				segment_end real
			)`,
			`INSERT INTO transcripts_new (timestamp, user_id, user_name, text, segment_start, segment_end)
				SELECT timestamp, user_id, user_name, text, segment_start, segment_end
				FROM transcripts ORDER BY timestamp, id`,
			`DROP TABLE transcripts`,
			`ALTER TABLE transcripts_new RENAME TO transcripts`,
			`CREATE INDEX IF NOT EXISTS idx_timestamp_transcripts ON transcripts (timestamp)`,
		}
		for _, q := range stmts {
			if err := tx.Exec(q).Error; err != nil {
				return fmt.Errorf("%s: %w", firstLine(q), err)
			}
		}
		return nil
	})
	return transient(err, "rebuild transcripts")
}

func transient(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.WrapCode(err, errors.CodeTransient, msg)
}

func firstLine(q string) string {
	for i, r := range q {
		if r == '\n' || r == '(' {
			return q[:i]
		}
	}
	return q
}
