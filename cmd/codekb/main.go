// Package main provides the entry point for the codekb CLI.
package main

import (
	"os"

	"github.com/codekb/codekb/cmd/codekb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
