package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/docgallery/internal/config"
	"github.com/steveyegge/docgallery/internal/logging"
	"github.com/steveyegge/docgallery/internal/ui"
)

var (
	dataDirFlag    string
	configFileFlag string
	envFileFlag    string
	logLevelFlag   string
	noColorFlag    bool

	cfg       *config.Config
	logger    = slog.Default()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "dg",
	Short: "Document image gallery with remote sync",
	Long: `dg keeps named documents of images in a local store and syncs them
with a remote blob: a GitHub repository file, a gist, an S3 object, a Redis
hash, or a local sync code.

Merges are last-writer-wins per document. Deletions are not propagated.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.LoadOptions{
			ConfigFile: configFileFlag,
			EnvFile:    envFileFlag,
			DataDir:    dataDirFlag,
		})
		if err != nil {
			return err
		}
		if logLevelFlag != "" {
			loaded.Log.Level = logLevelFlag
		}
		cfg = loaded

		l, closer, err := logging.New(logging.Options{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		if err != nil {
			return err
		}
		logger, logCloser = l, closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "docs", Title: "Documents:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "service", Title: "Background service:"},
		&cobra.Group{ID: "data", Title: "Data and settings:"},
	)

	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory (default: $DG_DATA_DIR or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&configFileFlag, "config", "", "Config file (default: <data-dir>/config.{toml,yaml})")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Environment file loaded before the config (default: .env)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")
}

// printer returns the output printer for cmd.
func printer(cmd *cobra.Command) *ui.Printer {
	if noColorFlag || os.Getenv("NO_COLOR") != "" {
		return ui.Plain(cmd.OutOrStdout())
	}
	return ui.New(cmd.OutOrStdout())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
