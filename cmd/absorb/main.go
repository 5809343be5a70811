// Package main provides the entry point for the absorb CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/absorb/cmd/absorb/commands"
	"github.com/Sumatoshi-tech/absorb/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	err := commands.NewAbsorbCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
