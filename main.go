package main

import "price-consensus/internal/cli"

func main() {
	cli.Execute()
}
