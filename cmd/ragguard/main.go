package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/gonkalabs/ragguard/internal/command"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("ragguard", command.Version)
	c.Args = os.Args[1:]
	c.Commands = command.Commands(ui)

	rc, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return rc
}
