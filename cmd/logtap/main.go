package main

import (
	"os"

	"github.com/charliek/logtap/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
