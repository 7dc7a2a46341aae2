package main

import (
	"os"

	"github.com/smarttraffic/dualsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
