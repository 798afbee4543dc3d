package cli

import (
	"MeetingScribe/internal/catalog"
	"MeetingScribe/internal/models"
	"MeetingScribe/internal/session"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func NewSessionsCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded sessions",
	}
	cmd.AddCommand(newSessionsListCmd(deps))
	cmd.AddCommand(newSessionsShowCmd(deps))
	return cmd
}

func newSessionsListCmd(deps *Dependencies) *cobra.Command {
	var (
		output     string
		status     string
		limit      int
		incomplete bool
		fromDB     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				recs []models.SessionRecord
				err  error
			)
			if fromDB {
				recs, err = listFromCatalog(cmd, deps, status, limit)
			} else {
				recs, err = listFromDisk(deps, status, limit)
			}
			if err != nil {
				return err
			}
			if incomplete {
				kept := recs[:0]
				for _, r := range recs {
					if r.Status == models.SessionIncomplete || r.Status == models.SessionFailed {
						kept = append(kept, r)
					}
				}
				recs = kept
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				return writeJSON(out, recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No sessions found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tPARTICIPANTS\tTITLE")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Status, started(r), duration(r), r.ParticipantCount, r.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	cmd.Flags().StringVar(&status, "status", "", "Only sessions with this status")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum number of results (0 = all)")
	cmd.Flags().BoolVar(&incomplete, "incomplete", false, "Only sessions that never finished")
	cmd.Flags().BoolVar(&fromDB, "catalog", false, "Read the catalog database instead of scanning the sessions directory")
	return cmd
}

func listFromDisk(deps *Dependencies, status string, limit int) ([]models.SessionRecord, error) {
	infos, err := session.List(deps.Config.SessionsDir)
	if err != nil {
		return nil, err
	}
	var recs []models.SessionRecord
	for _, in := range infos {
		rec := catalog.FromInfo(in)
		if status != "" && rec.Status != status {
			continue
		}
		recs = append(recs, rec)
		if limit > 0 && len(recs) == limit {
			break
		}
	}
	return recs, nil
}

func listFromCatalog(cmd *cobra.Command, deps *Dependencies, status string, limit int) ([]models.SessionRecord, error) {
	c, err := openCatalog(deps)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.List(cmd.Context(), status, limit)
}

func started(r models.SessionRecord) string {
	if r.StartedAt.IsZero() {
		return "-"
	}
	return r.StartedAt.UTC().Format("2006-01-02 15:04Z")
}

func duration(r models.SessionRecord) string {
	if r.EndedAt == nil || r.StartedAt.IsZero() {
		return "-"
	}
	return r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func newSessionsShowCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's metadata",
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
			return writeJSON(cmd.OutOrStdout(), md)
		},
	}
}
