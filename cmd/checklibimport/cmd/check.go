package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cklutz/CheckLibraryImport/internal/checker"
	"github.com/cklutz/CheckLibraryImport/internal/config"
	"github.com/cklutz/CheckLibraryImport/internal/logging"
	"github.com/cklutz/CheckLibraryImport/internal/native"
	"github.com/cklutz/CheckLibraryImport/internal/report"
	"github.com/cklutz/CheckLibraryImport/internal/scanner"
	"github.com/cklutz/CheckLibraryImport/internal/watcher"
)

// checkFlags holds the check command's flag values. The zero value means
// "use configuration"; only flags the user set override the config file.
type checkFlags struct {
	configPath string
	searchDirs []string
	exclude    []string
	workers    int
	noWarn     bool
	verbose    bool
	watch      bool
}

// newCheckCmd creates the check command.
func newCheckCmd() *cobra.Command {
	var flags checkFlags

	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Check interop declarations against native library exports",
		Long: `Check scans the given files or directories for managed binaries,
extracts their native-interop declarations and verifies each entry point
against the exports of the target native library.

Exit status is 1 when any declaration fails to resolve, 0 otherwise.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to a configuration file")
	cmd.Flags().StringSliceVar(&flags.searchDirs, "search-dir", nil, "Extra directory to search for native libraries (repeatable)")
	cmd.Flags().StringSliceVar(&flags.exclude, "exclude", nil, "Glob pattern for binaries to skip (repeatable)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Number of binaries checked concurrently (default: number of CPUs)")
	cmd.Flags().BoolVar(&flags.noWarn, "nowarn", false, "Suppress warning-level findings")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Also report declarations that resolve")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "Keep running and re-check when binaries change")

	return cmd
}

// runCheck is the shared check entry point, also used by the bare root
// invocation.
func runCheck(cmd *cobra.Command, args []string, flags checkFlags) error {
	if len(args) == 0 {
		args = []string{"."}
	}

	cfg, err := loadCheckConfig(flags)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &flags, cfg)

	// The config file may ask for a different log level or file than the
	// global flags; reconfigure unless --debug pinned the level.
	if !debugMode {
		logCfg := logging.Config{
			Level:         cfg.Log.Level,
			FilePath:      cfg.Log.File,
			WriteToStderr: true,
		}
		if logFile != "" {
			logCfg.FilePath = logFile
		}
		cleanup, err := logging.SetupDefault(logCfg)
		if err != nil {
			return err
		}
		if loggingCleanup != nil {
			loggingCleanup()
		}
		loggingCleanup = cleanup
	}

	reporter := report.New(report.Options{
		Output:  cmd.OutOrStdout(),
		NoWarn:  cfg.Check.NoWarn,
		Verbose: flags.verbose,
	})

	chk, err := buildChecker(cfg, reporter)
	if err != nil {
		return err
	}

	scanOpts := &scanner.ScanOptions{
		Paths:       args,
		Exclude:     cfg.Check.Exclude,
		MaxFileSize: cfg.MaxFileSize(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := chk.Run(ctx, scanOpts); err != nil {
		return err
	}
	reporter.Summary()

	if flags.watch {
		return watchLoop(ctx, cmd, cfg, flags, args, scanOpts)
	}

	if reporter.HasErrors() {
		return errFindings
	}
	return nil
}

// watchLoop re-runs the whole check whenever watched binaries change.
// It returns when the context is cancelled; findings in watch mode are
// reported but do not produce a failing exit status.
func watchLoop(ctx context.Context, cmd *cobra.Command, cfg *config.Config, flags checkFlags, paths []string, scanOpts *scanner.ScanOptions) error {
	w, err := watcher.New(watcher.Options{})
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx, paths...); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "watching for changes, press Ctrl+C to stop")

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watch error", slog.Any("error", err))

		case batch, ok := <-w.Batches():
			if !ok {
				return nil
			}
			slog.Info("binaries changed, re-checking", slog.Int("count", len(batch)))

			reporter := report.New(report.Options{
				Output:  cmd.OutOrStdout(),
				NoWarn:  cfg.Check.NoWarn,
				Verbose: flags.verbose,
			})
			chk, err := buildChecker(cfg, reporter)
			if err != nil {
				return err
			}
			if err := chk.Run(ctx, scanOpts); err != nil {
				return err
			}
			reporter.Summary()
		}
	}
}

// loadCheckConfig loads configuration from an explicit file or the usual
// lookup chain.
func loadCheckConfig(flags checkFlags) (*config.Config, error) {
	if flags.configPath != "" {
		return config.LoadFile(flags.configPath)
	}
	return config.Load(".")
}

// applyFlagOverrides lets explicitly set flags win over the config file.
func applyFlagOverrides(cmd *cobra.Command, flags *checkFlags, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("search-dir") {
		cfg.Check.SearchDirs = append(cfg.Check.SearchDirs, flags.searchDirs...)
	}
	if fs.Changed("exclude") {
		cfg.Check.Exclude = append(cfg.Check.Exclude, flags.exclude...)
	}
	if fs.Changed("workers") {
		cfg.Check.Workers = flags.workers
	}
	if fs.Changed("nowarn") {
		cfg.Check.NoWarn = flags.noWarn
	}
}

// buildChecker assembles the native resolution stack from configuration.
func buildChecker(cfg *config.Config, reporter *report.Reporter) (*checker.Checker, error) {
	loader := native.NewLoader()

	var opts []native.LocatorOption
	if len(cfg.Check.SearchDirs) > 0 {
		opts = append(opts, native.WithSearchDirs(cfg.Check.SearchDirs))
	}
	if len(cfg.Check.Resident) > 0 {
		opts = append(opts, native.WithResidentModules(cfg.Check.Resident))
	}
	locator := native.NewLocator(loader, opts...)

	exports, err := native.NewExportReader()
	if err != nil {
		return nil, err
	}

	resolver := native.NewResolver(loader, locator, exports)
	return checker.New(resolver, reporter, cfg.Check.Workers), nil
}
