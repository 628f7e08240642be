package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/ui"
)

var docCmd = &cobra.Command{
	Use:     "doc",
	GroupID: "docs",
	Short:   "Create, rename, delete and list documents",
	Long: `Documents are named groups of images. A document can be addressed by
its id, a unique id prefix, or its name when that is unique.`,
}

var docCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p := printer(cmd)
		doc, err := a.lib.Create(cmd.Context(), strings.Join(args, " "))
		if doc == nil {
			return err
		}
		p.Success("Created document %q (%s)", doc.Name, doc.ID)
		return notSaved(err)
	},
}

var docRenameCmd = &cobra.Command{
	Use:   "rename DOC NAME",
	Short: "Rename a document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p := printer(cmd)
		doc, err := resolveDocument(a.lib, args[0])
		if err != nil {
			return err
		}
		name := strings.Join(args[1:], " ")
		changed, err := a.lib.Rename(cmd.Context(), doc.ID, name)
		if !changed {
			if err != nil {
				return err
			}
			p.Muted("Document %q unchanged", doc.Name)
			return nil
		}
		p.Success("Renamed %q to %q", doc.Name, strings.TrimSpace(name))
		return notSaved(err)
	},
}

var docDeleteCmd = &cobra.Command{
	Use:   "delete DOC",
	Short: "Delete a document and its images",
	Long: `Delete a document and its images from the local collection.

Deletions are not synced: a remote that still holds the document brings it
back on the next sync.`,
	Args: cobra.ExactArgs(1),
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
		if _, err := a.lib.Delete(cmd.Context(), doc.ID); err != nil {
			return notSaved(err)
		}
		printer(cmd).Success("Deleted document %q (%d image(s))", doc.Name, len(doc.Images))
		return nil
	},
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Long: `List documents in display order, newest first.

--since accepts natural language such as "yesterday" or "3 days ago" and
keeps documents modified (or created) at or after that time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		format, _ := cmd.Flags().GetString("format")

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var cutoff time.Time
		if since != "" {
			cutoff, err = parseSince(since, time.Now())
			if err != nil {
				return err
			}
		}

		snap := a.lib.Snapshot()
		var rows []docRow
		for _, id := range snap.IDs() {
			doc := snap[id]
			if !cutoff.IsZero() && changedAt(doc).Before(cutoff) {
				continue
			}
			rows = append(rows, newDocRow(doc))
		}
		return renderDocs(printer(cmd), rows, format)
	},
}

var docShowCmd = &cobra.Command{
	Use:   "show DOC",
	Short: "Show a document and its images",
	Args:  cobra.ExactArgs(1),
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

		p := printer(cmd)
		p.Field("Name", doc.Name)
		p.Field("ID", doc.ID)
		p.Field("Created", doc.CreatedAt.Local().Format(time.DateTime))
		p.Field("Modified", ui.Ago(doc.LastModified))
		p.Field("Images", fmt.Sprintf("%d (%s)", len(doc.Images), ui.Size(doc.TotalSize())))
		if len(doc.Images) == 0 {
			return nil
		}
		rows := make([][]string, len(doc.Images))
		for i, img := range doc.Images {
			rows[i] = []string{
				fmt.Sprintf("%d", i+1),
				img.Name,
				img.MimeType,
				ui.Size(img.SizeBytes),
				img.UploadedAt.Local().Format(time.DateTime),
			}
		}
		p.Table([]string{"#", "Name", "Type", "Size", "Uploaded"}, rows)
		return nil
	},
}

// changedAt is the last modification, or the creation time for documents
// never edited.
func changedAt(doc *gallery.Document) time.Time {
	if t := doc.ModifiedAt(); !t.IsZero() {
		return t
	}
	return doc.CreatedAt
}

// docRow is one listed document.
type docRow struct {
	ID       string     `json:"id" yaml:"id" toml:"id"`
	Name     string     `json:"name" yaml:"name" toml:"name"`
	Images   int        `json:"images" yaml:"images" toml:"images"`
	Bytes    int64      `json:"bytes" yaml:"bytes" toml:"bytes"`
	Created  time.Time  `json:"created" yaml:"created" toml:"created"`
	Modified *time.Time `json:"modified,omitempty" yaml:"modified,omitempty" toml:"modified,omitempty"`
}

func newDocRow(doc *gallery.Document) docRow {
	return docRow{
		ID:       doc.ID,
		Name:     doc.Name,
		Images:   len(doc.Images),
		Bytes:    doc.TotalSize(),
		Created:  doc.CreatedAt,
		Modified: doc.LastModified,
	}
}

func renderDocs(p *ui.Printer, rows []docRow, format string) error {
	listing := struct {
		Documents []docRow `json:"documents" yaml:"documents" toml:"documents"`
	}{Documents: rows}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(format) {
	case "", "table":
		if len(rows) == 0 {
			p.Muted("No documents")
			return nil
		}
		table := make([][]string, len(rows))
		for i, r := range rows {
			table[i] = []string{r.ID, r.Name, ui.Count(r.Images), ui.Size(r.Bytes), ui.Ago(r.Modified)}
		}
		p.Table([]string{"ID", "Name", "Images", "Size", "Modified"}, table)
		return nil
	case "json":
		data, err = json.MarshalIndent(listing, "", "  ")
		data = append(data, '\n')
	case "yaml", "yml":
		data, err = yaml.Marshal(listing)
	case "toml":
		data, err = toml.Marshal(listing)
	default:
		return fmt.Errorf("unknown format %q (want table, json, yaml or toml)", format)
	}
	if err != nil {
		return fmt.Errorf("failed to render documents: %w", err)
	}
	_, err = p.Writer().Write(data)
	return err
}

// parseSince resolves a natural-language time relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, text, now.Location()); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return r.Time, nil
}

// notSaved wraps a persistence failure for display. The change was made;
// only the local save failed.
func notSaved(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("change was not saved locally: %w", err)
}

func init() {
	docListCmd.Flags().String("since", "", `Only documents changed since, e.g. "yesterday" or "2 weeks ago"`)
	docListCmd.Flags().StringP("format", "f", "table", "Output format: table, json, yaml, toml")

	docCmd.AddCommand(docCreateCmd, docRenameCmd, docDeleteCmd, docListCmd, docShowCmd)
	rootCmd.AddCommand(docCmd)
}
