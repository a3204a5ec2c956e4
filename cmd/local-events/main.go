package main

import "github.com/pfrederiksen/local-events/internal/cli"

func main() {
	cli.Execute()
}
