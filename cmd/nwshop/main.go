// Package main provides the nwshop CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/nwshop/internal/app"
	"github.com/spherical-ai/nwshop/internal/config"
	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/storage"
)

const version = "0.1.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool

	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "nwshop",
	Short: "Grocery item resolution for New World shopping",
	Long: `nwshop resolves free-text grocery items to New World catalog products.

Use this tool to:
- Resolve items and search the catalog
- Manage brand preferences and learn them from purchase history
- Match imported purchases and refresh purchase frequency
- Embed catalog products for semantic search
- Build shopping lists from recipes

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		} else if level == "info" {
			level = "warn"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      "console",
			Output:      os.Stderr,
			ServiceName: "nwshop-cli",
		})
		ui = NewUI(outputJSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newPrefCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newEmbedCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp wires the services and brings the schema up to date.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Migrate(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func newMigrateCmd() *cobra.Command {
	var (
		down   bool
		status bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Apply the embedded schema migrations and create the vector table.
Use --down to roll every migration back, --status to print the version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := storage.Open(ctx, cfg.DatabaseDSN(), cfg.Database.SQLite.MaxOpenConns)
			if err != nil {
				return err
			}
			defer db.Close()

			switch {
			case status:
			case down:
				logger.Info().Str("path", cfg.Database.SQLite.Path).Msg("rolling back migrations")
				if err := storage.MigrateDown(ctx, db); err != nil {
					return err
				}
				ui.Success("Rolled back all migrations")
			default:
				logger.Info().Str("path", cfg.Database.SQLite.Path).Msg("running migrations")
				if err := storage.Migrate(ctx, db, cfg.Embedding.Dimension); err != nil {
					return err
				}
				ui.Success("Migrations applied to %s", cfg.Database.SQLite.Path)
			}

			st, err := storage.Status(db)
			if err != nil {
				return err
			}
			vec, _ := storage.VecVersion(ctx, db)
			if ok, err := ui.JSON(map[string]interface{}{
				"version": st.Version,
				"dirty":   st.Dirty,
				"applied": st.Applied,
				"vec":     vec,
			}); ok {
				return err
			}
			ui.KeyValue("Schema version", st.Version)
			ui.KeyValue("Dirty", st.Dirty)
			ui.KeyValue("sqlite-vec", vec)
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	cmd.Flags().BoolVar(&status, "status", false, "print the schema version only")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, err := ui.JSON(map[string]string{"version": version, "go": runtime.Version()}); ok {
				return err
			}
			fmt.Printf("nwshop v%s\n", version)
			return nil
		},
	}
}
