package main

import "github.com/BioHazard786/classmesh/internal/commands"

func main() {
	commands.Execute()
}
