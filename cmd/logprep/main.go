package main

import (
	"os"

	"github.com/ekneg54/Logprep/cmd/logprep/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
