package main

import "github.com/booktile/pagestitch/cmd"

func main() {
	cmd.Execute()
}
