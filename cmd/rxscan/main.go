package main

import "github.com/MeKo-Tech/rxscan/cmd/rxscan/cmd"

func main() {
	cmd.Execute()
}
