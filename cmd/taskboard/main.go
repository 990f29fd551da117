// Package main is the entry point for the taskboard API and its tooling.
package main

import (
	"os"

	"taskboard/api/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
