// Package main is the entry point for the tagon dev engine.
// This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/tagon-dev/tagon/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
