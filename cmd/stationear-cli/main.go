package main

import (
	"context"
	"os"

	"stationear/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
