package command

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/cli"

	"github.com/gonkalabs/ragguard/internal/service"
)

var _ cli.Command = &MaskCommand{}

// MaskCommand masks a text read from a file or stdin.
type MaskCommand struct {
	ui    cli.Ui
	flags *flag.FlagSet
	stdin io.Reader

	in         string
	mappingOut string
	store      bool
	asJSON     bool
	report     bool
}

func (c *MaskCommand) init() {
	const (
		inUsageText         = "File to mask. Reads stdin when empty or '-'."
		mappingOutUsageText = "Write the token mapping as JSON to this file. The file is created with mode 0600."
		storeUsageText      = "Save the mapping in the configured store (RAGGUARD_STORE) and print the session id instead of the mapping."
		jsonUsageText       = "Print the full response, masked text, mapping and entities, as one JSON document."
		reportUsageText     = "Print a JSON report of the masked text, the entities found and the extraction setup. Values and the mapping are only shown with RAGGUARD_DEBUG."
	)

	c.flags = flag.NewFlagSet("mask", flag.ContinueOnError)
	c.flags.StringVar(&c.in, "in", "", inUsageText)
	c.flags.StringVar(&c.mappingOut, "mapping-out", "", mappingOutUsageText)
	c.flags.BoolVar(&c.store, "store", false, storeUsageText)
	c.flags.BoolVar(&c.asJSON, "json", false, jsonUsageText)
	c.flags.BoolVar(&c.report, "report", false, reportUsageText)
	c.flags.SetOutput(io.Discard)
}

// NewMaskCommand produces a new *MaskCommand, initialized for use in a CLI application.
func NewMaskCommand(ui cli.Ui) *MaskCommand {
	c := &MaskCommand{ui: ui, stdin: os.Stdin}
	c.init()
	return c
}

// MaskCommandFactory provides a cli.CommandFactory for the mask command.
func MaskCommandFactory(ui cli.Ui) cli.CommandFactory {
	return func() (cli.Command, error) {
		return NewMaskCommand(ui), nil
	}
}

func (c *MaskCommand) Help() string {
	helpText := `Usage: ragguard mask [options]

Replaces personal data in the input with reversible <RG:LABEL:HASH>
tokens and prints the masked text. The mapping needed to restore the
text is written with -mapping-out or kept in the store with -store.
`
	return Usage(helpText, c.flags)
}

func (c *MaskCommand) Synopsis() string {
	return "Mask personal data in a text"
}

func (c *MaskCommand) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		c.ui.Warn(err.Error())
		c.ui.Warn(c.Help())
		return FlagParseError
	}
	if c.report && (c.store || c.mappingOut != "" || c.asJSON) {
		c.ui.Warn("-report cannot be combined with -store, -mapping-out or -json")
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

	if c.report {
		return c.runReport(ctx, rt, text)
	}

	res, err := rt.svc.Mask(ctx, service.MaskRequest{Text: text, Store: c.store})
	if err != nil {
		c.ui.Error(fmt.Sprintf("Mask failed: %s", err))
		return codeFor(err)
	}

	if c.mappingOut != "" {
		b, err := json.MarshalIndent(res.Mapping, "", "  ")
		if err != nil {
			c.ui.Error(fmt.Sprintf("Failed to encode mapping: %s", err))
			return OutputError
		}
		if err := os.WriteFile(c.mappingOut, b, 0o600); err != nil {
			c.ui.Error(fmt.Sprintf("Failed to write mapping: %s", err))
			return OutputError
		}
	}

	if c.asJSON {
		out, err := marshalJSON(res)
		if err != nil {
			c.ui.Error(fmt.Sprintf("Failed to encode response: %s", err))
			return OutputError
		}
		c.ui.Output(out)
		return Success
	}

	c.ui.Output(res.Text)
	switch {
	case res.SessionID != "":
		c.ui.Info("session: " + res.SessionID)
	case c.mappingOut == "" && len(res.Mapping) > 0:
		c.ui.Warn(fmt.Sprintf("%d tokens masked but the mapping was discarded; use -mapping-out, -store or -json to keep it", len(res.Mapping)))
	}
	return Success
}

func (c *MaskCommand) runReport(ctx context.Context, rt *runtime, text string) int {
	rep, err := rt.svc.Report(ctx, service.ReportRequest{Text: text})
	if err != nil {
		c.ui.Error(fmt.Sprintf("Mask failed: %s", err))
		return codeFor(err)
	}
	out, err := marshalJSON(rep)
	if err != nil {
		c.ui.Error(fmt.Sprintf("Failed to encode report: %s", err))
		return OutputError
	}
	c.ui.Output(out)
	return Success
}
