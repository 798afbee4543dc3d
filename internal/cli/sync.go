package cli

import (
	"MeetingScribe/internal/session"
	"MeetingScribe/pkg/backup"
	"MeetingScribe/pkg/logger"
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewSyncCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Index every session directory into the catalog database",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCatalog(deps)
			if err != nil {
				return err
			}
			defer c.Close()
			n, err := c.Sync(cmd.Context(), deps.Config.SessionsDir, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d sessions\n", n)
			return nil
		},
	}
}

func NewBackupCmd(deps *Dependencies) *cobra.Command {
	var dst string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy finished sessions' store and metadata to the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dst == "" {
				dst = deps.Config.BackupPath
			}
			n, err := backupFinished(cmd.Context(), deps.Config.SessionsDir, dst, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d sessions to %s\n", n, dst)
			return nil
		},
	}
	cmd.Flags().StringVar(&dst, "to", "", "Backup directory (defaults to the configured backup path)")
	return cmd
}

// backupFinished backs up every complete session under root not yet present
// in dst. Sessions in skip are left alone.
func backupFinished(ctx context.Context, root, dst string, skip map[string]bool) (int, error) {
	infos, err := session.List(root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, in := range infos {
		if in.Incomplete || skip[in.ID] {
			continue
		}
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		done, err := backup.BackupSession(ctx, in.Dir, dst)
		if err != nil {
			logger.Error("session backup failed", zap.String("session", in.ID), zap.Error(err))
			continue
		}
		if done {
			n++
		}
	}
	return n, nil
}
