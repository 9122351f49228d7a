package main

import (
	"fmt"
	"os"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli"
)

func main() {
	if err := cli.ExecuteDaemon(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
