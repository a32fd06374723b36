package main

import (
	"os"

	"costrologer/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
