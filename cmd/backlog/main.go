package main

import "github.com/david/visa-backlog/internal/cli"

func main() {
	cli.Execute()
}
