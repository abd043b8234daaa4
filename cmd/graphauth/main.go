package main

import (
	"os"

	"graphauth/go-backend/cmd/graphauth/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
