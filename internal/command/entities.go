package command

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/gonkalabs/ragguard/internal/service"
)

var _ cli.Command = &EntitiesCommand{}

// EntitiesCommand prints the entities the configured extractors find,
// without masking anything.
type EntitiesCommand struct {
	ui    cli.Ui
	flags *flag.FlagSet
	stdin io.Reader

	in string
}

func (c *EntitiesCommand) init() {
	c.flags = flag.NewFlagSet("entities", flag.ContinueOnError)
	c.flags.StringVar(&c.in, "in", "", "File to scan. Reads stdin when empty or '-'.")
	c.flags.SetOutput(io.Discard)
}

// NewEntitiesCommand produces a new *EntitiesCommand, initialized for use in a CLI application.
func NewEntitiesCommand(ui cli.Ui) *EntitiesCommand {
	c := &EntitiesCommand{ui: ui, stdin: os.Stdin}
	c.init()
	return c
}

// EntitiesCommandFactory provides a cli.CommandFactory for the entities command.
func EntitiesCommandFactory(ui cli.Ui) cli.CommandFactory {
	return func() (cli.Command, error) {
		return NewEntitiesCommand(ui), nil
	}
}

func (c *EntitiesCommand) Help() string {
	helpText := `Usage: ragguard entities [options]

Runs extraction only and prints the merged entities as JSON. Entity text
is shown as [MASKED] unless RAGGUARD_DEBUG is set.
`
	return Usage(helpText, c.flags)
}

func (c *EntitiesCommand) Synopsis() string {
	return "List the personal data found in a text"
}

func (c *EntitiesCommand) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		c.ui.Warn(err.Error())
		c.ui.Warn(c.Help())
		return FlagParseError
	}

	l := configureLogging("ragguard")
	ctx := context.Background()

	text, err := readInput(c.in, c.stdin)
	if err != nil {
		c.ui.Error(fmt.Sprintf("Failed to read input: %s", err))
		return InputError
	}

	rt, code := loadRuntime(ctx, c.ui, l, runtimeOptions{})
	if code != Success {
		return code
	}
	defer rt.Close()

	res, err := rt.svc.Entities(ctx, service.EntitiesRequest{Text: text})
	if err != nil {
		c.ui.Error(fmt.Sprintf("Extraction failed: %s", err))
		return codeFor(err)
	}
	out, err := marshalJSON(res)
	if err != nil {
		c.ui.Error(fmt.Sprintf("Failed to encode response: %s", err))
		return OutputError
	}
	c.ui.Output(out)
	return Success
}

// marshalJSON encodes v indented, keeping token angle brackets literal.
func marshalJSON(v any) (string, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
