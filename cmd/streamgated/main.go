// Package main is the entry point for the streamgate application.
package main

import (
	"os"

	"github.com/streamforge/gateway/cmd/streamgated/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
