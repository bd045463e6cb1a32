// Package command implements the ragguard CLI subcommands.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/gonkalabs/ragguard/internal/config"
	"github.com/gonkalabs/ragguard/internal/metrics"
	"github.com/gonkalabs/ragguard/internal/pipeline"
	"github.com/gonkalabs/ragguard/internal/sanitize"
	"github.com/gonkalabs/ragguard/internal/sanitize/llmextractor"
	"github.com/gonkalabs/ragguard/internal/service"
	"github.com/gonkalabs/ragguard/internal/signer"
	"github.com/gonkalabs/ragguard/internal/upstream"
	"github.com/gonkalabs/ragguard/internal/vault"
)

// Commands returns the command table for cli.CLI.
func Commands(ui cli.Ui) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"mask":     MaskCommandFactory(ui),
		"unmask":   UnmaskCommandFactory(ui),
		"entities": EntitiesCommandFactory(ui),
		"serve":    ServeCommandFactory(ui),
		"version":  VersionCommandFactory(ui),
	}
}

// configureLogging takes a logger name, sets the default configuration, grabs the LOG_LEVEL from our ENV vars, and
// returns a configured and usable logger.
func configureLogging(loggerName string) hclog.Logger {
	appLogger := hclog.New(&hclog.LoggerOptions{
		Name: loggerName,
	})
	hclog.SetDefault(appLogger)
	if logStr := os.Getenv("LOG_LEVEL"); logStr != "" {
		if level := hclog.LevelFromString(logStr); level != hclog.NoLevel {
			appLogger.SetLevel(level)
			appLogger.Debug("Logger configuration change", "LOG_LEVEL", hclog.Fmt("%s", logStr))
		}
	}
	return hclog.Default()
}

// runtime bundles the service a command drives with the resources behind it.
type runtime struct {
	cfg      *config.Cfg
	svc      *service.Service
	upstream *upstream.Client
	store    vault.Store
	closers  []func() error
}

// runtimeOptions selects the optional parts of a runtime.
type runtimeOptions struct {
	metrics bool
}

// newRuntime wires the upstream client, the mapping store and the engine
// described by cfg.
func newRuntime(ctx context.Context, cfg *config.Cfg, logger hclog.Logger, opts runtimeOptions) (*runtime, int, error) {
	rt := &runtime{cfg: cfg}

	var sig upstream.HeaderSigner
	if keys := splitList(cfg.LLMPrivateKey); len(keys) > 0 {
		pool, err := signer.NewPool(keys, splitList(cfg.LLMAddress))
		if err != nil {
			return nil, ConfigError, err
		}
		sig = pool
		logger.Info("request signing enabled", "keys", pool.Len(), "addresses", pool.Addresses())
	}

	up, err := upstream.New(upstream.Options{
		BaseURL: cfg.LLMURL,
		Model:   cfg.LLMModel,
		APIKey:  cfg.LLMAPIKey,
		Signer:  sig,
		Timeout: cfg.LLMTimeout,
		CAFile:  cfg.CAFile,
		CAPath:  cfg.CAPath,
		Logger:  logger.Named("upstream"),
	})
	if err != nil {
		return nil, SetupError, err
	}
	rt.upstream = up

	var complete llmextractor.CompleteFunc
	if cfg.Strategy.NeedsCompletion() {
		complete = up.Complete
	}
	eng, err := service.NewEngine(cfg, complete, logger)
	if err != nil {
		return nil, ConfigError, err
	}

	switch cfg.Store {
	case config.StoreFile:
		fs, err := vault.NewFileStore(cfg.StorePath, cfg.StoreTTL)
		if err != nil {
			return nil, SetupError, err
		}
		rt.store = fs
	case config.StoreRedis:
		rs, err := vault.NewRedisStore(ctx, cfg.RedisAddr, cfg.StoreTTL)
		if err != nil {
			return nil, SetupError, err
		}
		rt.store = rs
		rt.closers = append(rt.closers, rs.Close)
	default:
		rt.store = vault.Noop{}
	}

	var m *metrics.Metrics
	if opts.metrics {
		m = metrics.New()
	}

	rt.svc = service.New(service.Options{
		Engine:   eng,
		Store:    rt.store,
		Metrics:  m,
		Generate: up.Complete,
		Pipeline: pipeline.Options{
			MaxChunkLength: cfg.MaxChunkLength,
			MaxChunks:      cfg.MaxChunks,
			Template:       cfg.PromptTemplate,
		},
		Debug:  cfg.IncludeDebugInfo,
		Logger: logger.Named("service"),
	})
	return rt, Success, nil
}

// Close releases store connections.
func (r *runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// loadRuntime loads the configuration and builds a runtime from it, reporting
// failures on ui. A non-Success code means the caller should return it.
func loadRuntime(ctx context.Context, ui cli.Ui, logger hclog.Logger, opts runtimeOptions) (*runtime, int) {
	cfg, err := config.Load()
	if err != nil {
		ui.Error(fmt.Sprintf("Failed to load configuration: %s", err))
		return nil, ConfigError
	}
	logger.Debug("configuration loaded", "cfg", hclog.Fmt("%v", cfg.Redacted()))

	rt, code, err := newRuntime(ctx, cfg, logger, opts)
	if err != nil {
		ui.Error(fmt.Sprintf("Failed to set up ragguard: %s", err))
		return nil, code
	}
	return rt, Success
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

// codeFor maps a service error to an exit code.
func codeFor(err error) int {
	if sanitize.IsKind(err, sanitize.KindConfig) {
		return ConfigError
	}
	return RunError
}

// splitList parses a comma-separated list, dropping blank entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
