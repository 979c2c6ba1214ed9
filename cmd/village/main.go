// Package main provides the entry point for the village CLI.
package main

import (
	"os"

	"github.com/wrenhall/village/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
