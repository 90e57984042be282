package main

import (
	"seep/internal/client/cli"
)

func main() {
	cli.Execute()
}
