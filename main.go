package main

import "github.com/batyrsync/batyrd/cmd"

func main() {
	cmd.Execute()
}
