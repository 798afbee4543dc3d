package cli

import (
	"MeetingScribe/internal/transcribe"
	"MeetingScribe/pkg/config"
	"MeetingScribe/pkg/logger"
	"MeetingScribe/pkg/metrics"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newPipeline builds the transcription pipeline against the configured
// whisper-compatible ASR server.
func newPipeline(cfg *config.Config, m *metrics.Metrics) *transcribe.Pipeline {
	return &transcribe.Pipeline{
		Engine:      transcribe.NewWhisperClient(cfg.ASRURL, "", 0),
		Model:       cfg.WhisperModel,
		Device:      cfg.Device,
		ComputeType: cfg.ComputeType,
		Language:    cfg.Language,
		Retries:     cfg.MetadataRetries,
		RetryDelay:  cfg.MetadataRetryDelay,
		Metrics:     m,
	}
}

func NewTranscribeCmd(deps *Dependencies) *cobra.Command {
	var skipCatalog bool
	cmd := &cobra.Command{
		Use:   "transcribe <session-id>",
		Short: "Transcribe a finished session in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := sessionDir(deps.Config, args[0])
			if err != nil {
				return err
			}
			res, runErr := newPipeline(deps.Config, deps.Metrics).Run(cmd.Context(), dir)

			if !skipCatalog {
				if c, err := openCatalog(deps); err != nil {
					logger.Warn("catalog unavailable", zap.Error(err))
				} else {
					if err := c.MarkTranscribed(cmd.Context(), filepath.Base(dir), runErr); err != nil {
						logger.Warn("catalog update failed", zap.Error(err))
					}
					c.Close()
				}
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tracks, %d skipped, %d failed, %d segments\n",
				res.SessionID, res.Tracks, res.Skipped, res.Failed, res.Segments)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipCatalog, "no-catalog", false, "Do not record the outcome in the catalog database")
	return cmd
}
