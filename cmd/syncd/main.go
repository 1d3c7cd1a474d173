package main

import (
	"os"

	// Import init package first to set logging defaults
	_ "github.com/beam-cloud/mailsync/internal/init"

	"github.com/beam-cloud/mailsync/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
