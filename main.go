// Package main is the entry point for the pcapsplit capture splitter.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/pcapsplit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
