package main

import (
	"os"

	"github.com/scrawl-dev/scrawl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
