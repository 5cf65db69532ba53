package main

import (
	"os"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/cmd/slackhooks/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
