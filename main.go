package main

import (
	"os"

	"github.com/yeremiapane/roster-sync/cli"
)

func main() {
	os.Exit(cli.Execute())
}
