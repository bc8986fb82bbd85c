package main

import "breakout-radar/internal/cli"

func main() {
	cli.Execute()
}
