package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/docgallery/internal/migrate"
	"github.com/steveyegge/docgallery/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "data",
	Short:   "Import documents from a JSON file",
	Long: `Import documents from a JSON file.

Accepted shapes: a bare collection, a browser storage dump with a
"documentGalleryData" entry, or a sync payload written by 'dg export'.

By default the file is merged like a sync: newer documents win and ties
keep the local copy. --replace swaps the whole collection instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := migrate.Import(cmd.Context(), a.lib, migrate.ImportOptions{
			Path:    args[0],
			Replace: replace,
			DryRun:  dryRun,
		})
		if err != nil {
			return err
		}

		p := printer(cmd)
		prefix := ""
		if dryRun {
			prefix = "Would import: "
		}
		p.Info("%sread %d document(s) (%s format)", prefix, res.Read, res.Format)
		p.Field("Added", len(res.Added))
		p.Field("Updated", len(res.Updated))
		if len(res.Dropped) > 0 {
			p.Warn("Skipped %d invalid document(s): %v", len(res.Dropped), res.Dropped)
		}
		if res.Replaced && !dryRun {
			p.Warn("Collection replaced")
		}
		if res.SaveErr != nil {
			return notSaved(res.SaveErr)
		}
		if !dryRun {
			p.Success("Import complete")
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export FILE",
	GroupID: "data",
	Short:   "Export the collection as a sync payload file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backup, _ := cmd.Flags().GetBool("backup")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := migrate.Export(a.lib.Snapshot(), migrate.ExportOptions{
			Path:   args[0],
			Backup: backup,
		}, time.Now())
		if err != nil {
			return err
		}

		p := printer(cmd)
		if res.BackupCreated != "" {
			p.Muted("Previous file saved to %s", res.BackupCreated)
		}
		p.Success("Exported %s document(s), %s image(s), %s to %s",
			ui.Count(res.Documents), ui.Count(res.Images), ui.Size(int64(res.Bytes)), args[0])
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "data",
	Short:   "Show configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration after defaults, the config file and
DG_* environment variables are applied. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		redacted := cfg.Redacted()
		data, err := redacted.Marshal(format)
		if err != nil {
			return err
		}
		if cfg.File != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "# %s\n", cfg.File)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

func init() {
	importCmd.Flags().Bool("replace", false, "Replace the collection instead of merging")
	importCmd.Flags().Bool("dry-run", false, "Report what would change without saving")
	exportCmd.Flags().Bool("backup", false, "Keep an existing FILE as FILE.bak")
	configShowCmd.Flags().StringP("format", "f", "toml", "Output format: toml, yaml, json")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(importCmd, exportCmd, configCmd)
}
