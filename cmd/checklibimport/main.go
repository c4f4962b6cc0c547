// Package main provides the entry point for the checklibimport CLI.
package main

import (
	"os"

	"github.com/cklutz/CheckLibraryImport/cmd/checklibimport/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
