package main

import "github.com/lightning-enable/lightning-enable/cmd/lightning-enable/cmd"

func main() {
	cmd.Execute()
}
