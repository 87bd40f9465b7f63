// Command docindex ingests documents into the vector index and queries it
// from the command line, or runs the HTTP API with "docindex serve".
package main

import (
	"fmt"
	"os"

	"github.com/markdave123-py/docindex/cmd/docindex/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
