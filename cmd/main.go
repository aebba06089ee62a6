package main

import "github.com/canopy-network/metanode/cmd/cli"

func main() {
	cli.Execute()
}
