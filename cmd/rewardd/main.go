package main

import "github.com/tonview/rewards/internal/cli"

func main() {
	cli.Execute()
}
