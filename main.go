package main

import "github.com/polystore/polystore/cmd"

func main() {
	cmd.Execute()
}
