package main

import (
	"os"

	"github.com/pablasso/autobuild/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
