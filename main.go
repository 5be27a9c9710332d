// Package main is the entry point for the callmon call lifecycle monitor.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/callmon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
