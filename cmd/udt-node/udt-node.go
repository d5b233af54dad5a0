package main

import "github.com/skycoin/udt/cmd/udt-node/commands"

func main() {
	commands.Execute()
}
