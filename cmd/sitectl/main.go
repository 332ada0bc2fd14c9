// Package main provides the sitectl CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/crofton-cloud/sitectl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
