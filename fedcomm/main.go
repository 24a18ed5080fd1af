// Package main is the entry point of the fedcomm command.
package main

import "github.com/sarchlab/fedcomm/fedcomm/cmd"

func main() {
	cmd.Execute()
}
