package main

import (
	"os"

	"github.com/digitorus/pades/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
