package main

import "github.com/ProjectCoral/Coral/cmd"

func main() {
	cmd.Execute()
}
