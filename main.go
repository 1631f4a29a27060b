package main

import (
	"os"

	"github.com/terndb/tern/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
