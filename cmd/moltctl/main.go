package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/moltlabs/molt/cmd/moltctl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "moltctl crashed: %v\n", r)
			if os.Getenv("MOLT_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
