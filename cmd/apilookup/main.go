package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/apilookup-mcp/internal/config"
	"github.com/dshills/apilookup-mcp/internal/indexer"
	"github.com/dshills/apilookup-mcp/internal/mcp"
	"github.com/dshills/apilookup-mcp/internal/metrics"
	"github.com/dshills/apilookup-mcp/internal/storage"
	"github.com/dshills/apilookup-mcp/internal/watch"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call has its own config so
// tests can run commands in isolation.
func newRootCmd() *cobra.Command {
	var (
		configPath string
		cfg        config.Config
	)

	rootCmd := &cobra.Command{
		Use:           "apilookup",
		Short:         "Index ctags output and answer API lookups over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (default: $"+config.EnvConfigPath+")")

	rootCmd.AddCommand(
		newServeCmd(&cfg),
		newIndexCmd(&cfg),
		newGenerateCmd(&cfg),
		newLookupCmd(&cfg),
		newSearchCmd(&cfg),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Sync the artifacts directory and serve MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return runServe(cmd.Context(), a)
		},
	}
}

// runServe performs the initial sync, starts the optional watcher and
// metrics endpoint, then serves MCP until ctx ends or the client leaves
func runServe(ctx context.Context, a *app) error {
	log := a.logger
	log.Info("apilookup starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
	)

	if err := a.ensureArtifactsDir(); err != nil {
		return err
	}
	if _, err := a.scheduler.SyncDirectory(ctx, a.cfg.Artifacts.Dir); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Watch.Enabled {
		w, err := watch.New(a.cfg.Artifacts.Dir, func(ctx context.Context) error {
			_, err := a.scheduler.SyncDirectory(ctx, a.cfg.Artifacts.Dir)
			return err
		}, watch.Options{
			Extension: a.cfg.Artifacts.Extension,
			Debounce:  time.Duration(a.cfg.Watch.DebounceMS) * time.Millisecond,
			Logger:    log.Named("watch"),
		})
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("watcher stopped", zap.Error(err))
			}
		}()
	}

	if a.cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(a.cfg.Metrics.Addr, a.registry, a.health)
		go func() {
			log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	server, err := a.mcpServer()
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	err = server.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}

func newIndexCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: "Sync the index with the artifacts in dir (default: artifacts.dir)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			dir := a.cfg.Artifacts.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			report, err := a.scheduler.SyncDirectory(cmd.Context(), dir)
			if err != nil {
				return err
			}
			printSyncReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func printSyncReport(w io.Writer, report *indexer.SyncReport) {
	for _, name := range report.Reindexed {
		r := report.Reports[name]
		fmt.Fprintf(w, "indexed  %s: %d records, %d skipped, %d excluded, %d parse errors\n",
			name, r.ProcessedLines, r.SkippedLines, r.Excluded, len(r.ParseErrors))
	}
	for _, name := range report.Skipped {
		fmt.Fprintf(w, "skipped  %s: unchanged\n", name)
	}
	for _, name := range report.Removed {
		fmt.Fprintf(w, "removed  %s\n", name)
	}
	failed := make([]string, 0, len(report.Failed))
	for name := range report.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		fmt.Fprintf(w, "failed   %s: %s\n", name, report.Failed[name])
	}
	fmt.Fprintf(w, "%d records, %d unique names (%s)\n",
		report.TotalRecords, report.UniqueNames, report.Duration.Round(time.Millisecond))
}

func newGenerateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <srcdir>",
		Short: "Run ctags over srcdir and index the resulting artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			generated, err := a.runner.Generate(cmd.Context(), args[0], a.cfg.Artifacts.Dir)
			if err != nil {
				return err
			}
			var exclude indexer.PathMatcher
			if generated.Exclusions != nil {
				exclude = generated.Exclusions
			}
			result, err := a.scheduler.SyncArtifact(cmd.Context(), generated.OutputFile, exclude)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s\n", generated.OutputFile)
			if result.Skipped {
				fmt.Fprintf(out, "%s unchanged\n", result.Artifact)
				return nil
			}
			fmt.Fprintf(out, "indexed %s: %d records, %d excluded\n",
				result.Artifact, result.Report.ProcessedLines, result.Report.Excluded)
			return nil
		},
	}
}

func newLookupCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <name>",
		Short: "Print declarations with exactly this name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			matches, err := a.searcher.LookupExact(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), matches)
		},
	}
}

func newSearchCmd(cfg *config.Config) *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over indexed tags (FTS5 syntax)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if limit < 0 {
				limit = a.cfg.Query.DefaultLimit
			}
			page, err := a.searcher.SearchFullText(cmd.Context(), args[0], offset, limit)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), page.Items); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d results\n", len(page.Items), page.TotalCount)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	cmd.Flags().IntVar(&limit, "limit", -1, "maximum results (default: query.default_limit)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", mcp.ServerName)
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Schema Version: %s\n", storage.CurrentSchemaVersion)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
