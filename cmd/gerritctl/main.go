package main

import (
	"os"

	gerritcmd "github.com/goreview/gerritctl/pkg/gerritctl/cmd"
)

func main() {
	root := gerritcmd.NewRootCommand(gerritcmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
