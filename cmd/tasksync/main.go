package main

import (
	"os"

	"github.com/Joseda-hg/tasksync/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
