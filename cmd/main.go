package main

import "portintel/pkg/cli"

func main() {
	cli.Execute()
}
