package main

import "github.com/MeKo-Tech/shelfscan/cmd/shelfscan/cmd"

func main() {
	cmd.Execute()
}
