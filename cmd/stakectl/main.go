package main

import (
	"os"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/cmd/stakectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
