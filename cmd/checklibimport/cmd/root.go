// Package cmd provides the CLI commands for checklibimport.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cklutz/CheckLibraryImport/internal/logging"
	"github.com/cklutz/CheckLibraryImport/pkg/version"
)

// Exit codes. Findings and runtime failures exit 1, usage mistakes exit 2.
const (
	exitOK       = 0
	exitFindings = 1
	exitUsage    = 2
)

// errFindings signals that the check completed and found errors.
var errFindings = errors.New("check found errors")

// errUsage wraps argument and flag mistakes.
var errUsage = errors.New("usage error")

var (
	debugMode      bool
	logFile        string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the checklibimport CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checklibimport [paths...]",
		Short: "Verify native library imports in managed binaries",
		Long: `checklibimport statically verifies that every native-interop declaration
in a managed binary references an entry point actually exported by the
target native library, before anything fails at run time.

Run it against deployment directories or single binaries:

  checklibimport ./bin
  checklibimport check --nowarn --exclude '*.Tests.dll' ./publish`,
		Version:       version.Version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			// Bare invocation with paths behaves like a default check run.
			return runCheck(cmd, args, checkFlags{})
		},
	}

	cmd.SetVersionTemplate("checklibimport version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write structured logs to this file")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newExportsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging installs the default logger before any command runs. The
// check command replaces it if configuration asks for something else.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	cfg.FilePath = logFile

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command and maps its outcome to an exit code.
func Execute() int {
	root := NewRootCmd()
	err := root.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errFindings):
		return exitFindings
	case errors.Is(err, errUsage):
		fmt.Fprintln(root.ErrOrStderr(), err)
		return exitUsage
	default:
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		slog.Debug("command failed", slog.Any("error", err))
		return exitFindings
	}
}
