package main

import (
	"os"

	"github.com/ZanzyTHEbar/companion-graph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
