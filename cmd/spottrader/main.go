package main

import "github.com/rustyeddy/spottrader/internal/cli"

func main() {
	cli.Execute()
}
