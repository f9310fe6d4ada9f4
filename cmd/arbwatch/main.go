package main

import "rate-arb-watch/internal/cli"

func main() {
	cli.Execute()
}
