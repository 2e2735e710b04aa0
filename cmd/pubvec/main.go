// Package main provides the entry point for the pubvec CLI.
package main

import (
	"os"

	"github.com/pubvec/pubvec/cmd/pubvec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
