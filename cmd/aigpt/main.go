package main

import (
	"fmt"
	"os"

	"github.com/syui/aigpt/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aigpt: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
