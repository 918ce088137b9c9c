package main

import (
	"os"

	"github.com/harun/seqbot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
