package main

import (
	"os"

	"github.com/pratik-mahalle/stackdrift/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
