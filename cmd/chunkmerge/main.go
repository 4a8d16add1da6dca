package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chunkmerge/internal/aggregate"
	"chunkmerge/internal/config"
	"chunkmerge/internal/history"
	"chunkmerge/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "1.0.0"

var (
	// Global flags
	verbose    bool
	configPath string

	// Merge flags
	dir        string
	pattern    string
	outputName string
	jobs       int
	historyDB  string

	// Watch flags
	debounce time.Duration

	// History flags
	historyLimit int

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command. Running it without a subcommand
// performs a single merge.
var rootCmd = &cobra.Command{
	Use:   "chunkmerge",
	Short: "chunkmerge - merge crawler chunk files into one artifact",
	Long: `chunkmerge merges data-chunk files (chunk_1.json, chunk_2.json, ...)
in a directory into one combined output file.

Chunks are concatenated verbatim in lexicographic filename order, one blank
line after each, so reruns over an unchanged directory produce byte-identical
output. The output file itself is never read back as a chunk.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		zapCfg := zap.NewProductionConfig()
		if verbose || cfg.Logging.Level == "debug" {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runMerge,
}

// mergeCmd performs a single merge pass.
var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge matching chunk files into the output artifact",
	Long: `Scans the directory for files matching the pattern, truncates the
output artifact, and appends each chunk's content in lexicographic filename
order with one blank-line delimiter after each.

Any read or write failure aborts the run: a partial merge is never reported
as success.`,
	RunE: runMerge,
}

// watchCmd keeps the artifact current while chunks are still being written.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-merge automatically whenever chunk files change",
	Long: `Performs an initial merge, then watches the directory and re-runs
the merge whenever files matching the pattern are created, modified, or
removed. Changes are debounced so a burst of chunk writes triggers one merge.

Press Ctrl+C to stop.`,
	RunE: runWatch,
}

// historyCmd lists recorded runs from the ledger.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent merge runs from the run ledger",
	RunE:  runHistory,
}

// versionCmd prints the version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chunkmerge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chunkmerge %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.chunkmerge.yaml)")

	for _, cmd := range []*cobra.Command{rootCmd, mergeCmd, watchCmd} {
		cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory holding the chunk files")
		cmd.Flags().StringVarP(&pattern, "pattern", "p", aggregate.DefaultPattern, "Glob matched against chunk filenames")
		cmd.Flags().StringVarP(&outputName, "output", "o", aggregate.DefaultOutputName, "Output filename, written inside the directory")
		cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "Parallel chunk reads (output order is unaffected)")
		cmd.Flags().StringVar(&historyDB, "history-db", "", "Record runs in this SQLite ledger")
	}
	watchCmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Settle window before re-merging")

	historyCmd.Flags().StringVar(&historyDB, "history-db", "", "SQLite ledger to read")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")

	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlagOverrides folds explicitly-set flags into the loaded config so
// precedence is flag > env > file > default.
func applyFlagOverrides(cmd *cobra.Command) {
	if cmd.Flags().Changed("dir") {
		cfg.Merge.Dir = dir
	}
	if cmd.Flags().Changed("pattern") {
		cfg.Merge.Pattern = pattern
	}
	if cmd.Flags().Changed("output") {
		cfg.Merge.OutputName = outputName
	}
	if cmd.Flags().Changed("jobs") {
		cfg.Merge.Jobs = jobs
	}
	if cmd.Flags().Changed("history-db") {
		cfg.History.Enabled = historyDB != ""
		cfg.History.DatabasePath = historyDB
	}
	if cmd.Flags().Changed("debounce") {
		cfg.Watch.Debounce = debounce.String()
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func newAggregator() (*aggregate.Aggregator, error) {
	return aggregate.New(aggregate.Options{
		Dir:         cfg.Merge.Dir,
		Pattern:     cfg.Merge.Pattern,
		OutputName:  cfg.Merge.OutputName,
		Delimiter:   cfg.Merge.Delimiter,
		Concurrency: cfg.Merge.Jobs,
	}, logger)
}

// recordRun writes the summary to the ledger when one is configured. Ledger
// failures are warnings: the artifact on disk is the contract, not the log.
func recordRun(ctx context.Context, summary *aggregate.Summary) {
	if !cfg.History.Enabled {
		return
	}
	store, err := history.Open(cfg.History.DatabasePath, logger)
	if err != nil {
		logger.Warn("run ledger unavailable", zap.Error(err))
		return
	}
	defer store.Close()
	if err := store.RecordRun(ctx, summary); err != nil {
		logger.Warn("failed to record run", zap.Error(err))
	}
}

// runMerge performs a single merge pass.
func runMerge(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	agg, err := newAggregator()
	if err != nil {
		return err
	}

	summary, err := agg.Run(ctx)
	if err != nil {
		return err
	}
	recordRun(ctx, summary)

	fmt.Printf("Merged %d files into %s (%d bytes)\n",
		summary.FilesMerged, summary.OutputPath, summary.BytesWritten)
	return nil
}

// runWatch merges once, then keeps the artifact current until interrupted.
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	agg, err := newAggregator()
	if err != nil {
		return err
	}

	summary, err := agg.Run(ctx)
	if err != nil {
		return err
	}
	recordRun(ctx, summary)
	fmt.Printf("Merged %d files into %s (%d bytes)\n",
		summary.FilesMerged, summary.OutputPath, summary.BytesWritten)

	watcher, err := watch.New(cfg.Merge.Dir, cfg.Merge.Pattern, cfg.Merge.OutputName,
		cfg.GetDebounce(), agg, logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	watcher.SetOnMerge(func(s *aggregate.Summary) {
		recordRun(ctx, s)
	})
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	fmt.Printf("Watching %s for %s changes (Ctrl+C to stop)\n", cfg.Merge.Dir, cfg.Merge.Pattern)
	<-ctx.Done()
	watcher.Stop()

	stats := watcher.GetStats()
	fmt.Printf("Stopped after %d change events, %d re-merges\n", stats.EventsSeen, stats.MergesTriggered)
	return nil
}

// runHistory lists recent runs from the ledger.
func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	path := cfg.History.DatabasePath
	if path == "" {
		return fmt.Errorf("no run ledger configured (set --history-db or history.database_path)")
	}

	store, err := history.Open(path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RecentRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	for _, r := range runs {
		fmt.Printf("%s  %-36s  %4d files  %8d bytes  %s -> %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.ID, r.FilesMerged, r.BytesWritten, r.Dir, r.OutputPath)
	}
	return nil
}
