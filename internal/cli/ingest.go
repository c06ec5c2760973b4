package cli

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/shotam27/souchiJohoKanri/internal/core"
)

// batchOutcome is one file's result in JSON output.
type batchOutcome struct {
	File    string             `json:"file"`
	Result  *core.IngestResult `json:"result,omitempty"`
	Message string             `json:"message,omitempty"`
	Action  string             `json:"action,omitempty"`
	Code    string             `json:"code,omitempty"`
}

func newIngestCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Load one or more CSV batches",
		Long: `Load CSV batches into the inventory. Each file is one batch and is committed
or rolled back on its own; a failed file does not stop the remaining ones.

Files may be UTF-8 (with or without BOM), UTF-16 with BOM, or Shift_JIS.`,
		Example: `  # Load a single batch into the default SQLite file
  devicectl ingest devices.csv

  # Load several batches into PostgreSQL
  devicectl --db-kind postgres --dsn "$DATABASE_URL" ingest a.csv b.csv

  # Show what a batch would change without writing it
  devicectl ingest --dry-run devices.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if dryRun {
				return runPreview(cmd, cc, args)
			}
			return runIngest(cmd, cc, args)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Analyze the batches without writing them")
	return cmd
}

func runIngest(cmd *cobra.Command, cc *commandContext, files []string) error {
	outcomes := make([]batchOutcome, 0, len(files))
	failed := 0

	for _, path := range files {
		out := batchOutcome{File: path}
		data, err := readBatchFile(path, cc.Config.Upload.MaxFileSize)
		if err == nil {
			out.Result, err = cc.Service.Ingest(cmd.Context(), core.IngestRequest{
				Name: filepath.Base(path),
				Data: data,
			})
		}
		if err != nil {
			failed++
			msg := core.MapError(err)
			out.Message, out.Action, out.Code = msg.Message, msg.Action, msg.Code
		}
		outcomes = append(outcomes, out)
	}

	r := cc.Renderer
	if r.isJSON() {
		if err := r.json(outcomes); err != nil {
			return err
		}
	} else {
		renderOutcomes(r, outcomes)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d batches failed", failed, len(files))
	}
	return nil
}

func readBatchFile(path string, maxSize int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%s: file too large (%d bytes)", path, info.Size())
	}
	return os.ReadFile(path)
}

func renderOutcomes(r *renderer, outcomes []batchOutcome) {
	rows := make([]table.Row, 0, len(outcomes))
	for _, o := range outcomes {
		row := table.Row{o.File, "", "", "", "", ""}
		if res := o.Result; res != nil {
			row[1] = string(res.State)
			row[2] = res.AcceptedCount
			row[3] = len(res.RejectedRows)
			row[4] = strings.Join(res.CreatedTables, ", ")
		}
		if o.Code != "" {
			row[5] = fmt.Sprintf("[%s] %s", o.Code, o.Message)
		}
		rows = append(rows, row)
	}
	r.table(table.Row{"File", "State", "Accepted", "Rejected", "Created Tables", "Error"}, rows)

	for _, o := range outcomes {
		if o.Result == nil {
			continue
		}
		renderBatchDetails(r, o.File, o.Result)
	}
}

func renderBatchDetails(r *renderer, file string, res *core.IngestResult) {
	if len(res.RejectedRows) > 0 {
		r.printf("\n%s: rejected rows\n", file)
		rows := make([]table.Row, len(res.RejectedRows))
		for i, rr := range res.RejectedRows {
			rows[i] = table.Row{rr.Line, rr.Reason, rr.Field, rr.Value}
		}
		r.table(table.Row{"Line", "Reason", "Field", "Value"}, rows)
	}

	for _, tableName := range slices.Sorted(maps.Keys(res.IgnoredAttributes)) {
		attrs := res.IgnoredAttributes[tableName]
		r.printf("%s: %s ignores new attributes: %s\n", file, tableName, strings.Join(attrs, ", "))
	}
	for _, w := range res.CatalogWarnings {
		r.printf("%s: catalog warning for %s/%s: %s\n", file, w.Service, w.Category, w.Message)
	}
}

// previewOutcome is one file's dry-run result in JSON output.
type previewOutcome struct {
	File    string             `json:"file"`
	Preview *core.BatchPreview `json:"preview,omitempty"`
	Message string             `json:"message,omitempty"`
	Code    string             `json:"code,omitempty"`
}

func runPreview(cmd *cobra.Command, cc *commandContext, files []string) error {
	outcomes := make([]previewOutcome, 0, len(files))
	failed := 0

	for _, path := range files {
		out := previewOutcome{File: path}
		data, err := readBatchFile(path, cc.Config.Upload.MaxFileSize)
		if err == nil {
			out.Preview, err = cc.Service.PreviewBatch(cmd.Context(), core.IngestRequest{
				Name: filepath.Base(path),
				Data: data,
			})
		}
		if err != nil {
			failed++
			msg := core.MapError(err)
			out.Message, out.Code = msg.Message, msg.Code
		}
		outcomes = append(outcomes, out)
	}

	r := cc.Renderer
	if r.isJSON() {
		if err := r.json(outcomes); err != nil {
			return err
		}
	} else {
		rows := make([]table.Row, 0, len(outcomes))
		for _, o := range outcomes {
			row := table.Row{o.File, "", "", "", "", ""}
			if p := o.Preview; p != nil {
				row[1] = p.NewRows
				row[2] = p.UpdateRows
				row[3] = len(p.RejectedRows)
				row[4] = strings.Join(p.TablesToCreate, ", ")
			}
			if o.Code != "" {
				row[5] = fmt.Sprintf("[%s] %s", o.Code, o.Message)
			}
			rows = append(rows, row)
		}
		r.table(table.Row{"File", "New", "Update", "Rejected", "New Tables", "Error"}, rows)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d batches are invalid", failed, len(files))
	}
	return nil
}
