package command

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/cli"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

var _ cli.Command = &UnmaskCommand{}

// UnmaskCommand restores tokens in a text using a mapping file or a stored
// session. Input is restored as a stream so arbitrarily large files work.
type UnmaskCommand struct {
	ui     cli.Ui
	flags  *flag.FlagSet
	stdin  io.Reader
	stdout io.Writer

	in      string
	mapping string
	session string
	labels  string
	forget  bool
}

func (c *UnmaskCommand) init() {
	const (
		inUsageText      = "File to restore. Reads stdin when empty or '-'."
		mappingUsageText = "JSON mapping file written by 'ragguard mask -mapping-out'."
		sessionUsageText = "Session id printed by 'ragguard mask -store'. Exclusive with -mapping."
		labelsUsageText  = "Comma-separated labels to restore, e.g. 'EMAIL,PHONE'. All labels are restored when empty."
		forgetUsageText  = "Delete the session from the store after restoring."
	)

	c.flags = flag.NewFlagSet("unmask", flag.ContinueOnError)
	c.flags.StringVar(&c.in, "in", "", inUsageText)
	c.flags.StringVar(&c.mapping, "mapping", "", mappingUsageText)
	c.flags.StringVar(&c.session, "session", "", sessionUsageText)
	c.flags.StringVar(&c.labels, "labels", "", labelsUsageText)
	c.flags.BoolVar(&c.forget, "forget", false, forgetUsageText)
	c.flags.SetOutput(io.Discard)
}

// NewUnmaskCommand produces a new *UnmaskCommand, initialized for use in a CLI application.
func NewUnmaskCommand(ui cli.Ui) *UnmaskCommand {
	c := &UnmaskCommand{ui: ui, stdin: os.Stdin, stdout: os.Stdout}
	c.init()
	return c
}

// UnmaskCommandFactory provides a cli.CommandFactory for the unmask command.
func UnmaskCommandFactory(ui cli.Ui) cli.CommandFactory {
	return func() (cli.Command, error) {
		return NewUnmaskCommand(ui), nil
	}
}

func (c *UnmaskCommand) Help() string {
	helpText := `Usage: ragguard unmask [options]

Replaces every known token in the input with its original value. Tokens
missing from the mapping are left untouched.
`
	return Usage(helpText, c.flags)
}

func (c *UnmaskCommand) Synopsis() string {
	return "Restore masked tokens in a text"
}

func (c *UnmaskCommand) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		c.ui.Warn(err.Error())
		c.ui.Warn(c.Help())
		return FlagParseError
	}
	if (c.mapping == "") == (c.session == "") {
		c.ui.Warn("exactly one of -mapping or -session is required")
		c.ui.Warn(c.Help())
		return FlagParseError
	}

	l := configureLogging("ragguard")
	ctx := context.Background()

	var (
		mapping sanitize.Mapping
		rt      *runtime
	)
	if c.mapping != "" {
		b, err := os.ReadFile(c.mapping)
		if err != nil {
			c.ui.Error(fmt.Sprintf("Failed to read mapping: %s", err))
			return InputError
		}
		if err := json.Unmarshal(b, &mapping); err != nil {
			c.ui.Error(fmt.Sprintf("Failed to parse mapping %s: %s", c.mapping, err))
			return InputError
		}
	} else {
		var code int
		if rt, code = loadRuntime(ctx, c.ui, l, runtimeOptions{}); code != Success {
			return code
		}
		defer rt.Close()
		m, err := rt.store.Load(ctx, c.session)
		if err != nil {
			c.ui.Error(fmt.Sprintf("Failed to load session %s: %s", c.session, err))
			return RunError
		}
		mapping = m
	}

	if labels := splitList(c.labels); len(labels) > 0 {
		mapping = mapping.FilterLabels(labels)
	}
	if _, ok := mapping[""]; ok {
		c.ui.Error(sanitize.UnmaskingError("unmask", sanitize.ErrEmptyToken).Error())
		return RunError
	}

	var src io.Reader = c.stdin
	if c.in != "" && c.in != "-" {
		f, err := os.Open(c.in)
		if err != nil {
			c.ui.Error(fmt.Sprintf("Failed to read input: %s", err))
			return InputError
		}
		defer f.Close()
		src = f
	}

	if _, err := io.Copy(c.stdout, sanitize.NewRestoringReader(src, mapping)); err != nil {
		c.ui.Error(fmt.Sprintf("Failed to restore input: %s", err))
		return OutputError
	}
	l.Debug("restored input", "tokens", len(mapping))

	if c.forget && rt != nil {
		if err := rt.store.Delete(ctx, c.session); err != nil {
			l.Warn("session delete failed", "session", c.session, "error", err)
		}
	}
	return Success
}
