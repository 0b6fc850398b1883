package main

import "unicampus/cmd/client/cmd"

func main() {
	cmd.Execute()
}
