package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/steveyegge/docgallery/internal/intake"
)

var imageCmd = &cobra.Command{
	Use:     "image",
	GroupID: "docs",
	Short:   "Add, remove and export document images",
}

var imageAddCmd = &cobra.Command{
	Use:   "add DOC FILE...",
	Short: "Add image files to a document",
	Long: `Add image files to a document in the order given.

Files are checked by content, not extension. Files that are not images or
exceed the size limit are reported and skipped; the rest are added.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := resolveDocument(a.lib, args[0])
		if err != nil {
			return err
		}

		session := intake.NewSession(a.lib, doc.ID,
			intake.WithConcurrency(cfg.Intake.Concurrency),
			intake.WithMaxSize(int64(cfg.Intake.MaxSizeMB)<<20),
			intake.WithLogger(logger),
		)
		defer session.Close()

		batch, err := session.Submit(cmd.Context(), args[1:])
		if err != nil {
			return err
		}

		p := printer(cmd)
		if len(batch.Added) > 0 {
			p.Success("%s to %q", batch.Message(), doc.Name)
		} else {
			p.Warn("%s", batch.Message())
		}
		for _, f := range batch.Failed {
			p.Muted("  %s: %v", f.Path, f.Err)
		}
		if batch.SaveErr != nil {
			return notSaved(batch.SaveErr)
		}
		if len(batch.Added) == 0 {
			return fmt.Errorf("no images were added")
		}
		return nil
	},
}

var imageRemoveCmd = &cobra.Command{
	Use:   "remove DOC INDEX",
	Short: "Remove an image by its 1-based position",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid image index %q", args[1])
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := resolveDocument(a.lib, args[0])
		if err != nil {
			return err
		}
		removed, err := a.lib.RemoveImage(cmd.Context(), doc.ID, index-1)
		if removed.Name == "" {
			return err
		}
		printer(cmd).Success("Removed %s from %q", removed.Name, doc.Name)
		return notSaved(err)
	},
}

var imageExportCmd = &cobra.Command{
	Use:   "export DOC DIR",
	Short: "Write a document's images to a directory",
	Long: `Write every image of a document to DIR as a regular file.

Existing files are never overwritten; a numbered suffix is added instead.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := resolveDocument(a.lib, args[0])
		if err != nil {
			return err
		}
		paths, err := intake.Export(doc, args[1])
		p := printer(cmd)
		for _, path := range paths {
			p.Muted("  %s", path)
		}
		if err != nil {
			return err
		}
		p.Success("Exported %d image(s) from %q to %s", len(paths), doc.Name, args[1])
		return nil
	},
}

func init() {
	imageCmd.AddCommand(imageAddCmd, imageRemoveCmd, imageExportCmd)
	rootCmd.AddCommand(imageCmd)
}
