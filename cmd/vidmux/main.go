// Package main is the entry point for the vidmux application.
package main

import (
	"os"

	"github.com/jmylchreest/vidmux/cmd/vidmux/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
