// Package main is the entry point for the gleaner CLI.
package main

import (
	"os"

	"github.com/gleanerhq/gleaner/cmd/gleaner/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
