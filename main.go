package main

import "github/chapool/go-custody/cmd"

func main() {
	cmd.Execute()
}
