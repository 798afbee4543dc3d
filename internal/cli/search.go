package cli

import (
	"MeetingScribe/internal/catalog"
	"MeetingScribe/internal/session"
	"MeetingScribe/pkg/config"
	"MeetingScribe/pkg/errors"
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/search"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const searchOpenTimeout = 5 * time.Second

func openSearch(cfg *config.Config) (search.Engine, error) {
	eng, err := search.New(search.Config{
		IndexPath:    cfg.SearchIndexPath,
		OpenTimeout:  searchOpenTimeout,
		QueryTimeout: 10 * time.Second,
	}, search.BuildIndexMapping(""))
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: index locked, probably by a running \"scribe serve\" (use GET /api/search)", err)
	}
	if err != nil {
		return nil, err
	}
	return eng, nil
}

func NewSearchCmd(deps *Dependencies) *cobra.Command {
	var (
		q       catalog.SearchQuery
		output  string
		reindex bool
	)
	cmd := &cobra.Command{
		Use:   "search [terms...]",
		Short: "Search transcripts and notes across sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openSearch(deps.Config)
			if err != nil {
				return err
			}
			defer eng.Close()
			out := cmd.OutOrStdout()

			if reindex {
				sessions, docs, err := indexAll(cmd, eng, deps.Config.SessionsDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Indexed %d documents from %d sessions\n", docs, sessions)
				if len(args) == 0 && q.Phrase == "" {
					return nil
				}
			}

			q.Text = strings.Join(args, " ")
			res, err := catalog.Search(cmd.Context(), eng, q)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(out, res)
			}
			if len(res.Hits) == 0 {
				fmt.Fprintln(out, "No matches")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tTIME\tKIND\tSPEAKER\tTEXT")
			for _, h := range res.Hits {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", h.SessionID, h.Timestamp, h.Kind, h.Speaker, h.Text)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if res.Total > uint64(len(res.Hits)) {
				fmt.Fprintf(out, "%d of %d matches\n", len(res.Hits), res.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Phrase, "phrase", "", "Exact phrase to match")
	cmd.Flags().StringVar(&q.SessionID, "session", "", "Only this session")
	cmd.Flags().StringVar(&q.Speaker, "speaker", "", "Only this speaker (display name)")
	cmd.Flags().StringVar(&q.Kind, "kind", "", "Only transcript or note")
	cmd.Flags().IntVarP(&q.Limit, "limit", "l", 20, "Maximum number of results")
	cmd.Flags().BoolVar(&q.Chronological, "chronological", false, "Order by time instead of relevance")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&reindex, "reindex", false, "Rebuild the index from every finished session first")
	return cmd
}

// indexAll indexes every finished session under root.
func indexAll(cmd *cobra.Command, eng search.Engine, root string) (sessions, docs int, err error) {
	infos, err := session.List(root)
	if err != nil {
		return 0, 0, err
	}
	for _, in := range infos {
		if in.Incomplete {
			continue
		}
		n, err := catalog.IndexSession(cmd.Context(), eng, in.Dir)
		if err != nil {
			logger.Warn("indexing session failed", zap.String("session", in.ID), zap.Error(err))
			continue
		}
		sessions++
		docs += n
	}
	return sessions, docs, nil
}
