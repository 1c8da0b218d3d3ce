package main

import (
	"os"
)

// Set via -ldflags "-X main.version=..." at release time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
