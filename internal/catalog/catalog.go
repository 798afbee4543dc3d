// Package catalog indexes sessions across recordings in one database
// (SQLite by default, MySQL or PostgreSQL when configured).
package catalog

import (
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/metrics"
	"MeetingScribe/pkg/util"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Catalog struct {
	db *gorm.DB
}

// Open connects with driver/dsn and migrates the sessions table.
func Open(driver, dsn string, m *metrics.Metrics) (*Catalog, error) {
	if driver == "" || driver == "sqlite" {
		if path := sqlitePath(dsn); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
		}
	}
	db, err := util.OpenDatabase(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if m != nil {
		if err := db.Use(metrics.NewGormPlugin(m)); err != nil {
			return nil, err
		}
	}
	if err := db.AutoMigrate(&models.SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// sqlitePath extracts the file path from a "file:<path>?..." DSN.
func sqlitePath(dsn string) string {
	if len(dsn) < 5 || dsn[:5] != "file:" {
		return ""
	}
	p := dsn[5:]
	for i := 0; i < len(p); i++ {
		if p[i] == '?' {
			p = p[:i]
			break
		}
	}
	if p == "" || p == ":memory:" {
		return ""
	}
	return p
}

func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (c *Catalog) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// FromInfo maps a scanned session directory onto its catalog row.
func FromInfo(info session.Info) models.SessionRecord {
	rec := models.SessionRecord{ID: info.ID, Dir: info.Dir, Status: models.SessionFailed}
	if info.Err != nil {
		rec.LastError = info.Err.Error()
	}
	if md := info.Metadata; md != nil {
		rec.ID = md.SessionID
		if md.Title != nil {
			rec.Title = *md.Title
		}
		rec.ChannelID = md.Channel.ID
		rec.ChannelName = md.Channel.Name
		rec.ParticipantCount = md.ParticipantCount
		if t, err := md.StartTime(); err == nil {
			rec.StartedAt = t.UTC()
		}
		if t, ok := md.EndTime(); ok {
			end := t.UTC()
			rec.EndedAt = &end
		}
		rec.Status = models.SessionIncomplete
		if md.Complete() {
			rec.Status = models.SessionComplete
		}
	}
	return rec
}

// Record upserts the row for a session directory from its metadata.
// Transcription outcome (status, transcribed_at, last_error) is owned by
// MarkTranscribed and survives re-scans; only a metadata read error
// replaces last_error.
func (c *Catalog) Record(ctx context.Context, info session.Info) error {
	rec := FromInfo(info)
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SessionRecord
		if err := tx.Where("id = ?", rec.ID).Take(&existing).Error; err == nil {
			if existing.Status == models.SessionTranscribed && rec.Status == models.SessionComplete {
				rec.Status = models.SessionTranscribed
			}
			rec.TranscribedAt = existing.TranscribedAt
			if rec.LastError == "" {
				rec.LastError = existing.LastError
			}
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	})
}

// MarkActive records a session that just started.
func (c *Catalog) MarkActive(ctx context.Context, id, dir string, started time.Time) error {
	rec := models.SessionRecord{ID: id, Dir: dir, StartedAt: started.UTC(), Status: models.SessionActive}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// MarkTranscribed stores the outcome of a transcription run.
func (c *Catalog) MarkTranscribed(ctx context.Context, id string, runErr error) error {
	updates := map[string]any{"last_error": ""}
	if runErr != nil {
		updates["last_error"] = runErr.Error()
	} else {
		updates["status"] = models.SessionTranscribed
		updates["transcribed_at"] = time.Now().UTC()
	}
	return c.db.WithContext(ctx).Model(&models.SessionRecord{}).Where("id = ?", id).Updates(updates).Error
}

// Get returns one session row.
func (c *Catalog) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := c.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns sessions newest first, optionally filtered by status.
func (c *Catalog) List(ctx context.Context, status string, limit int) ([]models.SessionRecord, error) {
	q := c.db.WithContext(ctx).Order("started_at DESC, id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.SessionRecord
	return out, q.Find(&out).Error
}

// Sync scans root and upserts every session found there. Sessions listed
// in skip (active recordings) are left alone.
func (c *Catalog) Sync(ctx context.Context, root string, skip map[string]bool) (int, error) {
	infos, err := session.List(root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, info := range infos {
		if skip[info.ID] {
			continue
		}
		if err := c.Record(ctx, info); err != nil {
			logger.Warn("catalog sync failed for session", zap.String("session", info.ID), zap.Error(err))
			continue
		}
		if info.Incomplete {
			logger.Warn("incomplete session on disk", zap.String("session", info.ID), zap.Bool("corrupt", info.Corrupt))
		}
		n++
	}
	return n, nil
}
