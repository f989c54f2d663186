package main

import (
	"os"

	"github.com/mnemo-dev/mnemo/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
