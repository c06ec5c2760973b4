package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/shotam27/souchiJohoKanri/internal/core"
)

const timeLayout = "2006-01-02 15:04:05"

func newSearchCommand() *cobra.Command {
	var (
		filter   core.SearchFilter
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search canonical device records",
		Example: `  devicectl search --service Alpha --category Gateway
  devicectl search --name gw --page 2 --page-size 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := cc.Service.SearchCanonical(cmd.Context(), filter, page, pageSize)
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(res)
			}

			rows := make([]table.Row, len(res.Rows))
			for i, rec := range res.Rows {
				rows[i] = table.Row{rec.PrimaryKey, rec.ServiceName, rec.Category, rec.EntityName,
					rec.Address, rec.AccountName, rec.UpdatedAt.Format(timeLayout)}
			}
			cc.Renderer.table(table.Row{"Primary Key", "Service", "Category", "Entity", "Address", "Account", "Updated"}, rows)
			cc.Renderer.printf("page %d of %d (%d records)\n", res.Page, res.TotalPages, res.TotalCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Service, "service", "", "Exact service name")
	cmd.Flags().StringVar(&filter.Category, "category", "", "Exact category")
	cmd.Flags().StringVar(&filter.EntityNameContains, "name", "", "Case-insensitive entity name substring")
	cmd.Flags().BoolVar(&filter.IncludeSecret, "include-secret", false, "Include the secret column in JSON output")
	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Rows per page (0 uses the configured default)")
	return cmd
}

func newServicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List service names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			services, err := cc.Service.ListServices(cmd.Context())
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(services)
			}
			cc.Renderer.list("Service", services)
			return nil
		},
	}
}

func newCategoriesCommand() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List categories, optionally for one service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			categories, err := cc.Service.ListCategories(cmd.Context(), service)
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(categories)
			}
			cc.Renderer.list("Category", categories)
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Only categories of this service")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show inventory statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := cc.Service.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(stats)
			}
			cc.Renderer.keyValues("Statistics", [][2]any{
				{"Devices", stats.TotalCanonicalRows},
				{"Services", stats.DistinctServices},
				{"Categories", stats.DistinctCategories},
				{"Service/category pairs", stats.DistinctCombinations},
				{"Active relations", stats.ActiveRelations},
			})
			return nil
		},
	}
}

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List category tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			tables, err := cc.Service.ListCategoryTables(cmd.Context())
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(tables)
			}
			cc.Renderer.list("Table", tables)
			return nil
		},
	}
}

func newDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe TABLE",
		Short: "Show the columns and row count of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			desc, err := cc.Service.DescribeTable(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(desc)
			}
			cc.Renderer.list("Column", desc.Columns)
			cc.Renderer.printf("%s: %d rows\n", desc.Name, desc.RowCount)
			return nil
		},
	}
}

func newRelationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relations",
		Short: "List service/category relations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			relations, err := cc.Service.ListRelations(cmd.Context())
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(relations)
			}

			rows := make([]table.Row, len(relations))
			for i, rel := range relations {
				rows[i] = table.Row{rel.ID, rel.ServiceName, rel.Category, rel.IsActive, rel.Description}
			}
			cc.Renderer.table(table.Row{"ID", "Service", "Category", "Active", "Description"}, rows)
			return nil
		},
	}
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild relations from canonical records",
		Long: `Register a relation for every service/category pair present in device_info.
Existing relations are reactivated; failures are reported per pair.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := cc.Service.ReconcileRelations(cmd.Context())
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(res)
			}

			cc.Renderer.keyValues("Reconcile", [][2]any{
				{"Processed", res.Processed},
				{"Registered", res.Registered},
				{"Failed", res.Failed},
			})
			for _, w := range res.Warnings {
				cc.Renderer.printf("%s/%s: %s\n", w.Service, w.Category, w.Message)
			}
			return nil
		},
	}
}

func newDeactivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate SERVICE CATEGORY",
		Short: "Mark a service/category relation inactive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cc.Service.Catalog().Deactivate(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(map[string]string{"service_name": args[0], "category": args[1], "status": "inactive"})
			}
			cc.Renderer.printf("deactivated %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent batch outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := cc.Service.ListHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if cc.Renderer.isJSON() {
				return cc.Renderer.json(entries)
			}

			rows := make([]table.Row, len(entries))
			for i, e := range entries {
				created := ""
				if !e.CreatedAt.IsZero() {
					created = e.CreatedAt.Format(timeLayout)
				}
				rows[i] = table.Row{e.ID, e.BatchID, e.Name, e.State, e.AcceptedCount, e.RejectedCount, e.Error, created}
			}
			cc.Renderer.table(table.Row{"ID", "Batch", "Name", "State", "Accepted", "Rejected", "Error", "Created"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", core.DefaultHistoryLimit, "Maximum number of batches to show")
	return cmd
}
