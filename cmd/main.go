package main

import (
	"os"
)

// main exits with code 1 when a command fails.
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
