package main

import (
	"fmt"
	"os"

	"restkit/internal/cmd"
)

// Version information set via ldflags during build
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
