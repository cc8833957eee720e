// Package main is the entry point for the docpipe CLI.
// docctl is the developer terminal tool for submitting documents and
// following their jobs through the pipeline.
package main

import (
	"os"

	"github.com/swastik-shetty-85/docpipe/cmd/docctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
