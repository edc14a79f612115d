package main

import (
	"fmt"
	"os"

	"github.com/roach88/threadline/internal/cli"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = fmt.Sprintf("%s (%s)", version, commit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
