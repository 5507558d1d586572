package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/mam/apps/mamctl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "mamctl crashed: %v\n", r)
			if os.Getenv("MAM_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
