// Package ui renders CLI output: status lines, tables and sizes.
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
)

// Printer writes styled output. Colors are used only when the writer is a
// terminal that supports them.
type Printer struct {
	out io.Writer
	r   *lipgloss.Renderer

	success lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	muted   lipgloss.Style
	header  lipgloss.Style
}

// New returns a Printer for w.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return newPrinter(w, r)
}

// Plain returns a Printer that never emits escape codes.
func Plain(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.Ascii)
	return newPrinter(w, r)
}

func newPrinter(w io.Writer, r *lipgloss.Renderer) *Printer {
	return &Printer{
		out:     w,
		r:       r,
		success: r.NewStyle().Foreground(lipgloss.Color("2")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("3")),
		fail:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		header:  r.NewStyle().Bold(true),
	}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Success prints a confirmation line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Warn prints a warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.out, p.warn.Render("! "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.out, p.fail.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Info prints an unstyled line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Muted prints a dimmed line.
func (p *Printer) Muted(format string, args ...any) {
	fmt.Fprintln(p.out, p.muted.Render(fmt.Sprintf(format, args...)))
}

// Field prints "label: value" with the label in bold.
func (p *Printer) Field(label string, value any) {
	fmt.Fprintf(p.out, "%s %v\n", p.header.Render(label+":"), value)
}

// Table prints rows under headers.
func (p *Printer) Table(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.muted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header.Padding(0, 1)
			}
			return p.r.NewStyle().Padding(0, 1)
		})
	fmt.Fprintln(p.out, t.Render())
}

// Size formats a byte count, e.g. "1.5 KiB".
func Size(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

// Ago formats t relative to now, e.g. "3 minutes ago". Zero is "never".
func Ago(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return humanize.Time(*t)
}

// Count formats n with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}
