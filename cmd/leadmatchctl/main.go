// Package main запускает операторскую утилиту leadmatchctl.
package main

import (
	"os"

	"github.com/mmeshcher/leadmatch/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
