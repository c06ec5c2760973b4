package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// renderer writes command results as go-pretty tables or indented JSON.
type renderer struct {
	w      io.Writer
	format string
}

func newRenderer(w io.Writer, format string) *renderer {
	if format == "" {
		format = outputTable
	}
	return &renderer{w: w, format: format}
}

func (r *renderer) isJSON() bool {
	return r.format == outputJSON
}

func (r *renderer) json(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// table renders rows under header. An empty row set prints "(0 rows)".
func (r *renderer) table(header table.Row, rows []table.Row) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
}

// keyValues renders a two-column property table.
func (r *renderer) keyValues(title string, pairs [][2]any) {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	for _, p := range pairs {
		t.AppendRow(table.Row{p[0], p[1]})
	}
	t.Render()
}

// list renders a single-column list.
func (r *renderer) list(header string, items []string) {
	rows := make([]table.Row, len(items))
	for i, item := range items {
		rows[i] = table.Row{item}
	}
	r.table(table.Row{header}, rows)
}

func (r *renderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.w, format, args...)
}
