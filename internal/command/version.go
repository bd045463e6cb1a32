package command

import (
	"github.com/mitchellh/cli"
)

// Version is overridden at build time with -ldflags "-X ...command.Version=v1.2.3".
var Version = "dev"

var _ cli.Command = &VersionCommand{}

type VersionCommand struct {
	ui cli.Ui
}

func NewVersionCommand(ui cli.Ui) *VersionCommand {
	return &VersionCommand{ui: ui}
}

// VersionCommandFactory provides a cli.CommandFactory for the version command.
func VersionCommandFactory(ui cli.Ui) cli.CommandFactory {
	return func() (cli.Command, error) {
		return NewVersionCommand(ui), nil
	}
}

func (c *VersionCommand) Help() string {
	return "Usage: ragguard version"
}

func (c *VersionCommand) Run([]string) int {
	c.ui.Output("ragguard " + Version)
	return Success
}

func (c *VersionCommand) Synopsis() string {
	return "Print the ragguard version"
}
