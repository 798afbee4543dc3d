package cli

import (
	"MeetingScribe/internal/session"
	"MeetingScribe/internal/store"
	"MeetingScribe/internal/transcribe"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func NewTimelineCmd(deps *Dependencies) *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "timeline <session-id>",
		Short: "Print the merged timeline of a finished session",
		Long:  "Prints events, notes and transcript lines of a session in timestamp order. The stored timeline.txt is used unless --rebuild is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := sessionDir(deps.Config, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !rebuild {
				if b, err := os.ReadFile(filepath.Join(dir, transcribe.TimelineFile)); err == nil {
					_, err = out.Write(b)
					return err
				}
			}

			md, err := session.ReadMetadata(session.MetadataPath(dir))
			if err != nil {
				return fmt.Errorf("reading metadata: %w", err)
			}
			st, err := store.OpenDir(dir, deps.Metrics)
			if err != nil {
				return err
			}
			defer st.Close()
			tl, err := st.BuildTimeline(cmd.Context())
			if err != nil {
				return err
			}
			date := ""
			if t, err := md.StartTime(); err == nil {
				date = t.Format("2006-01-02")
			}
			return tl.Render(out, date)
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Render from the session store instead of timeline.txt")
	return cmd
}

func NewReindexCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <session-id>",
		Short: "Re-sort transcripts by timestamp and rewrite timeline.txt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := sessionDir(deps.Config, args[0])
			if err != nil {
				return err
			}
			md, err := session.ReadMetadata(session.MetadataPath(dir))
			if err != nil {
				return fmt.Errorf("reading metadata: %w", err)
			}
			if !md.Complete() {
				return fmt.Errorf("session %s has not finished", md.SessionID)
			}
			st, err := store.OpenDir(dir, deps.Metrics)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.RebuildTranscripts(cmd.Context()); err != nil {
				return err
			}
			path := filepath.Join(dir, transcribe.TimelineFile)
			if err := transcribe.WriteTimeline(cmd.Context(), st, md, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rewrote %s\n", path)
			return nil
		},
	}
}
