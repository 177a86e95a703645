package main

import (
	"os"

	"github.com/Dicklesworthstone/tabled/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
