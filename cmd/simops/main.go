package main

import (
	"fmt"
	"os"

	"github.com/lucasnoah/simops/internal/cli"
)

// Version is stamped at release time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
