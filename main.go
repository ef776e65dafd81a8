package main

import "redgraph/engine/cmd"

func main() {
	cmd.Execute()
}
