// Package main provides the entry point for the ctxsysctl CLI.
package main

import (
	"os"

	"github.com/david-franz/ctx-sys-sub001/cmd/ctxsysctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
