package main

import (
	"fmt"
	"os"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/cmd/scribe/commands"
)

// Set by the build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersion(version, commit, date)

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
