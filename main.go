package main

import (
	"os"

	"github.com/checkloops/checkloops/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
