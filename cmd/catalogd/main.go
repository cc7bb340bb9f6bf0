// Package main is the entry point for the catalogd service and CLI.
package main

import (
	"os"

	"github.com/jmylchreest/catalogd/cmd/catalogd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
