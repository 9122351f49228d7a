package main

import (
	"os"

	"github.com/MGMAppDev/soccerview-sub003/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
