// Package cli provides the devicectl command-line interface.
//
// Every command opens the configured backend, runs one core operation and
// renders its result as a table or as JSON.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shotam27/souchiJohoKanri/internal/config"
	"github.com/shotam27/souchiJohoKanri/internal/core"
	"github.com/shotam27/souchiJohoKanri/internal/logging"
	"github.com/shotam27/souchiJohoKanri/internal/storage"

	// Storage backends selectable with --db-kind.
	_ "github.com/shotam27/souchiJohoKanri/internal/storage/mssql"
	_ "github.com/shotam27/souchiJohoKanri/internal/storage/postgres"
	_ "github.com/shotam27/souchiJohoKanri/internal/storage/sqlite"
)

// Version information (set at build time).
var Version = "dev"

// cliDefaults apply when neither a flag nor the environment sets a value.
// The CLI works against a local SQLite file out of the box.
var cliDefaults = map[string]string{
	"DB_KIND":      "sqlite",
	"DATABASE_URL": "inventory.db",
}

type configKey struct{}

type globalFlags struct {
	dbKind   string
	dsn      string
	logLevel string
	output   string
}

// NewRootCmd creates the root command reading the process environment.
func NewRootCmd() *cobra.Command {
	return newRootCmd(os.Getenv)
}

func newRootCmd(env config.LookupFunc) *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "devicectl",
		Short: "Device inventory ingestion and query tool",
		Long: `devicectl loads device inventory CSV batches into a relational store and
queries the result.

Each batch is applied in a single transaction: canonical device records go to
device_info, per-category attributes to one table per service and category.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			if flags.output != outputTable && flags.output != outputJSON {
				return fmt.Errorf("--output must be %q or %q, got %q", outputTable, outputJSON, flags.output)
			}

			cfg, err := config.LoadFrom(flagLookup(flags, env))
			if err != nil {
				return err
			}

			logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			ctx := logging.WithLogger(cmd.Context(), logger)
			ctx = context.WithValue(ctx, configKey{}, cfg)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.dbKind, "db-kind", "", "Storage backend: sqlite, postgres or mssql (env DB_KIND, default sqlite)")
	pf.StringVar(&flags.dsn, "dsn", "", "Connection string or SQLite file (env DATABASE_URL, default inventory.db)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	pf.StringVar(&flags.output, "output", outputTable, "Output format: table or json")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{outputTable, outputJSON}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("db-kind", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return storage.Kinds(), cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newIngestCommand())
	rootCmd.AddCommand(newSearchCommand())
	rootCmd.AddCommand(newServicesCommand())
	rootCmd.AddCommand(newCategoriesCommand())
	rootCmd.AddCommand(newRelationsCommand())
	rootCmd.AddCommand(newReconcileCommand())
	rootCmd.AddCommand(newDeactivateCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newTablesCommand())
	rootCmd.AddCommand(newDescribeCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if core.IsUserFacing(err) {
			fmt.Fprintf(os.Stderr, "  %s\n", core.FormatUserError(err))
		}
		return err
	}
	return nil
}

// flagLookup layers global flags over the environment and CLI defaults.
func flagLookup(flags globalFlags, env config.LookupFunc) config.LookupFunc {
	set := map[string]string{
		"DB_KIND":      flags.dbKind,
		"DATABASE_URL": flags.dsn,
		"LOG_LEVEL":    flags.logLevel,
	}
	return func(key string) string {
		if v := set[key]; v != "" {
			return v
		}
		if v := env(key); v != "" {
			return v
		}
		// DB_URL is the alternate name for DATABASE_URL and must win over the default.
		if key == "DATABASE_URL" && env("DB_URL") != "" {
			return ""
		}
		return cliDefaults[key]
	}
}

// commandContext is the per-invocation state every command works with.
type commandContext struct {
	Config   *config.Config
	Service  *core.Service
	Renderer *renderer
}

// newCommandContext opens the configured backend. The returned cleanup closes it.
func newCommandContext(cmd *cobra.Command) (*commandContext, func(), error) {
	cfg, ok := cmd.Context().Value(configKey{}).(*config.Config)
	if !ok {
		return nil, nil, fmt.Errorf("configuration not loaded")
	}

	db, err := storage.Open(cmd.Context(), cfg.Database.Storage())
	if err != nil {
		return nil, nil, err
	}

	output, _ := cmd.Flags().GetString("output")
	cc := &commandContext{
		Config:   cfg,
		Service:  core.NewService(db, cfg),
		Renderer: newRenderer(cmd.OutOrStdout(), output),
	}
	return cc, db.Close, nil
}
