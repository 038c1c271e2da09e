package main

import "github.com/kiesman99/tileblend/cmd"

func main() {
	cmd.Execute()
}
