package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/cli"

	"github.com/gonkalabs/ragguard/internal/api"
	"github.com/gonkalabs/ragguard/internal/bus"
)

var _ cli.Command = &ServeCommand{}

// ServeCommand runs the HTTP API and, when configured, the NATS responder.
type ServeCommand struct {
	ui    cli.Ui
	flags *flag.FlagSet

	addr    string
	natsURL string
	proxy   bool
}

func (c *ServeCommand) init() {
	const (
		addrUsageText  = "Listen address. Overrides PORT."
		natsUsageText  = "NATS server URL. Overrides RAGGUARD_NATS_URL; the responder is off when both are empty."
		proxyUsageText = "Expose the masking chat proxy at /v1/chat/completions and /v1/models, forwarding to RAGGUARD_LLM_URL."
	)

	c.flags = flag.NewFlagSet("serve", flag.ContinueOnError)
	c.flags.StringVar(&c.addr, "addr", "", addrUsageText)
	c.flags.StringVar(&c.natsURL, "nats", "", natsUsageText)
	c.flags.BoolVar(&c.proxy, "proxy", true, proxyUsageText)
	c.flags.SetOutput(io.Discard)
}

// NewServeCommand produces a new *ServeCommand, initialized for use in a CLI application.
func NewServeCommand(ui cli.Ui) *ServeCommand {
	c := &ServeCommand{ui: ui}
	c.init()
	return c
}

// ServeCommandFactory provides a cli.CommandFactory for the serve command.
func ServeCommandFactory(ui cli.Ui) cli.CommandFactory {
	return func() (cli.Command, error) {
		return NewServeCommand(ui), nil
	}
}

func (c *ServeCommand) Help() string {
	helpText := `Usage: ragguard serve [options]

Serves /v1/mask, /v1/unmask, /v1/entities, /v1/query, /health and
/metrics over HTTP. Configuration is read from RAGGUARD_* environment
variables and an optional .env file.
`
	return Usage(helpText, c.flags)
}

func (c *ServeCommand) Synopsis() string {
	return "Run the ragguard HTTP and NATS service"
}

func (c *ServeCommand) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		c.ui.Warn(err.Error())
		c.ui.Warn(c.Help())
		return FlagParseError
	}

	l := configureLogging("ragguard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, code := loadRuntime(ctx, c.ui, l, runtimeOptions{metrics: true})
	if code != Success {
		return code
	}
	defer func() {
		if err := rt.Close(); err != nil {
			l.Warn("store close failed", "error", err)
		}
	}()

	addr := rt.cfg.ListenAddr
	if c.addr != "" {
		addr = c.addr
	}
	natsURL := rt.cfg.NATSURL
	if c.natsURL != "" {
		natsURL = c.natsURL
	}

	var up api.Upstream
	if c.proxy {
		up = rt.upstream
	}
	handler := api.New(rt.svc, up, l.Named("api"))
	go handler.LoadModels(ctx)

	if natsURL != "" {
		nc, err := bus.Connect(natsURL, l.Named("nats"))
		if err != nil {
			c.ui.Error(fmt.Sprintf("Failed to connect to NATS: %s", err))
			return SetupError
		}
		defer nc.Close()
		responder := bus.New(rt.svc, rt.cfg.NATSSubject, rt.cfg.LLMTimeout, l.Named("nats"))
		if err := responder.Start(nc); err != nil {
			c.ui.Error(fmt.Sprintf("Failed to start NATS responder: %s", err))
			return SetupError
		}
		defer func() {
			if err := responder.Stop(); err != nil {
				l.Warn("nats drain failed", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	handler.Register(mux)

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		l.Info("shutting down", "signal", sig)
		cancel()

		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()

		if err := srv.Shutdown(shutCtx); err != nil {
			l.Error("shutdown error", "error", err)
		}
	}()

	info := rt.svc.Health().Info
	l.Info("starting ragguard",
		"addr", addr,
		"strategy", info.Strategy,
		"merge_mode", info.MergeMode,
		"ner", info.NER,
		"store", rt.cfg.Store,
		"proxy", c.proxy,
		"nats", natsURL != "",
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Error("server error", "error", err)
		return RunError
	}
	return Success
}
