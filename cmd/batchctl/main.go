package main

import (
	"os"

	"github.com/kursadbilgin/batch-engine/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
