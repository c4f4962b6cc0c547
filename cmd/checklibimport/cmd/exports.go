package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cklutz/CheckLibraryImport/internal/native"
)

// newExportsCmd creates the exports command.
func newExportsCmd() *cobra.Command {
	var (
		jsonOutput bool
		searchDirs []string
	)

	cmd := &cobra.Command{
		Use:   "exports <library>",
		Short: "List the exported symbols of a native library",
		Long: `Exports resolves a library the same way check does (path, search
directories, platform search order) and prints its export table. Useful for
finding the exact entry point name a declaration should use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExports(cmd, args[0], searchDirs, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output export names as JSON")
	cmd.Flags().StringSliceVar(&searchDirs, "search-dir", nil, "Extra directory to search for the library (repeatable)")

	return cmd
}

func runExports(cmd *cobra.Command, identifier string, searchDirs []string, jsonOutput bool) error {
	reader, err := native.NewExportReader()
	if err != nil {
		return err
	}

	path := identifier
	if _, statErr := os.Stat(identifier); statErr != nil {
		// Not a file on disk; resolve it like a declaration target would be.
		loader := native.NewLoader()
		var opts []native.LocatorOption
		if len(searchDirs) > 0 {
			opts = append(opts, native.WithSearchDirs(searchDirs))
		}
		locator := native.NewLocator(loader, opts...)

		lib, err := locator.Locate(identifier, "")
		if err != nil {
			return err
		}
		defer func() {
			if err := lib.Release(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: releasing %s: %v\n", lib.Name, err)
			}
		}()

		if lib.Path == "" {
			return fmt.Errorf("%s is a resident module with no backing file to read", identifier)
		}
		path = lib.Path
	}

	set, err := reader.ExportsOf(path)
	if err != nil {
		return err
	}

	names := set.Names()
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Library string   `json:"library"`
			Path    string   `json:"path"`
			Count   int      `json:"count"`
			Exports []string `json:"exports"`
		}{identifier, path, len(names), names})
	}

	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d exports in %s\n", len(names), path)
	return nil
}
