package main

import "github.com/curvewatch/indexer/cmd"

func main() {
	cmd.Execute()
}
