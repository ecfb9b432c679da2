package main

import (
	"os"

	"aether-ca/internal/cli"
)

func main() {
	if err := cli.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
