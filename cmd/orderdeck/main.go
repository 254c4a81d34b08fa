package main

import (
	"os"

	"github.com/orderdeck/orderdeck/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
