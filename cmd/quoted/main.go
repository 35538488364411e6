package main

import "quotewatch/internal/cli"

func main() {
	cli.Execute()
}
