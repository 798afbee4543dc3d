package cli

import (
	"MeetingScribe/internal/catalog"
	"MeetingScribe/pkg/config"
	"MeetingScribe/pkg/metrics"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X MeetingScribe/internal/cli.Version=...".
var Version = "dev"

type Dependencies struct {
	Config  *config.Config
	Metrics *metrics.Metrics
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "scribe",
		Short:         "Record voice meetings per speaker and reconstruct their timeline",
		Long:          "scribe records one WAV track per speaker, logs voice-state events and notes, and rebuilds a timestamped transcript once a session ends.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewSessionsCmd(deps))
	rootCmd.AddCommand(NewTimelineCmd(deps))
	rootCmd.AddCommand(NewTranscribeCmd(deps))
	rootCmd.AddCommand(NewReindexCmd(deps))
	rootCmd.AddCommand(NewSearchCmd(deps))
	rootCmd.AddCommand(NewSyncCmd(deps))
	rootCmd.AddCommand(NewBackupCmd(deps))

	return rootCmd
}

// sessionDir maps a session id (or a path to a session directory) onto the
// directory under the configured root.
func sessionDir(cfg *config.Config, arg string) (string, error) {
	if strings.ContainsRune(arg, filepath.Separator) {
		return filepath.Clean(arg), nil
	}
	if arg == "" || arg == "." || arg == ".." {
		return "", fmt.Errorf("invalid session id %q", arg)
	}
	return filepath.Join(cfg.SessionsDir, arg), nil
}

func openCatalog(deps *Dependencies) (*catalog.Catalog, error) {
	c, err := catalog.Open(deps.Config.DBDriver, deps.Config.DSN, deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return c, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
