package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shotam27/souchiJohoKanri/internal/core"
)

func newExportCommand() *cobra.Command {
	var (
		service       string
		category      string
		outPath       string
		includeSecret bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one category as CSV",
		Long: `Export the canonical and extended attributes of one service/category as CSV.
The output starts with a UTF-8 BOM so spreadsheet tools detect the encoding,
and can be loaded again with "devicectl ingest".`,
		Example: `  devicectl export --service Alpha --category Gateway -o gateways.csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := cc.Service.ExportCategory(cmd.Context(), service, category,
				core.ExportOptions{IncludeSecret: includeSecret})
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() && outPath == "" {
				return cc.Renderer.json(res)
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			if err := core.WriteCSV(w, res); err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d rows to %s\n", len(res.Rows), outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Service name (required)")
	cmd.Flags().StringVar(&category, "category", "", "Category (required)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&includeSecret, "include-secret", false, "Include the secret column")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
