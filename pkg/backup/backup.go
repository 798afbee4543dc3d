package backup

import (
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/storage"
	"MeetingScribe/pkg/util"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Files copied for every session besides the SQLite store.
var sessionSidecars = []string{"metadata.json"}

// BackupSQLiteDatabase writes a consistent copy of the SQLite file src to dst
// using VACUUM INTO, which is safe while the source is open in WAL mode.
func BackupSQLiteDatabase(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	// VACUUM INTO refuses to overwrite
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	db, err := util.OpenDatabase("sqlite", util.SQLiteFileDSN(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).Exec("VACUUM INTO ?", dst).Error; err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	logger.Info("SQLite database backup completed", zap.String("dst", dst))
	return nil
}

// BackupSession copies a finished session's durable store and metadata into
// dstRoot/<session name>/. Sessions already backed up are skipped and
// reported with done=false.
func BackupSession(ctx context.Context, sessionDir, dstRoot string) (done bool, err error) {
	name := filepath.Base(sessionDir)
	target := filepath.Join(dstRoot, name)
	if _, err := os.Stat(filepath.Join(target, "meeting.db")); err == nil {
		return false, nil
	}

	tmp := target + ".partial"
	if err := os.RemoveAll(tmp); err != nil {
		return false, err
	}
	if err := BackupSQLiteDatabase(ctx, filepath.Join(sessionDir, "meeting.db"), filepath.Join(tmp, "meeting.db")); err != nil {
		return false, err
	}
	for _, f := range sessionSidecars {
		if err := copyFile(filepath.Join(sessionDir, f), filepath.Join(tmp, f)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	if err := os.RemoveAll(target); err != nil {
		return false, err
	}
	return true, os.Rename(tmp, target)
}

// ArchiveSession uploads every file of sessionDir to st under
// "sessions/<name>/".
func ArchiveSession(ctx context.Context, st storage.Store, sessionDir string) (int, error) {
	start := time.Now()
	prefix := "sessions/" + strings.TrimSuffix(filepath.Base(sessionDir), string(filepath.Separator))
	n, err := storage.UploadDir(ctx, st, sessionDir, prefix)
	if err != nil {
		return n, fmt.Errorf("archive %s: %w", sessionDir, err)
	}
	logger.Info("session archived",
		zap.String("session", filepath.Base(sessionDir)),
		zap.Int("objects", n),
		zap.Duration("took", time.Since(start)))
	return n, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("error copying data: %w", err)
	}
	return out.Close()
}
