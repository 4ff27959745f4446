// Package main provides the entry point for the invoicegate CLI.
package main

import (
	"os"

	"github.com/randalmurphal/invoicegate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
