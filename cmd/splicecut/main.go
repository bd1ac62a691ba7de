package main

import "github.com/forPelevin/splicecut/internal/cli"

func main() {
	cli.Main()
}
