package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

// Strategy selects which extractors feed the masker.
type Strategy string

const (
	PatternOnly   Strategy = "pattern_only"
	DelegatedOnly Strategy = "delegated_only"
	Hybrid        Strategy = "hybrid"
)

// ParseStrategy accepts the canonical names and the legacy regex_only /
// llm_only spellings.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pattern_only", "regex_only":
		return PatternOnly, nil
	case "delegated_only", "llm_only":
		return DelegatedOnly, nil
	case "hybrid":
		return Hybrid, nil
	}
	return "", sanitize.ConfigError("strategy", fmt.Errorf("%w %q", sanitize.ErrUnknownStrategy, s))
}

// NeedsCompletion reports whether the strategy can use a completion function.
func (s Strategy) NeedsCompletion() bool { return s == DelegatedOnly || s == Hybrid }

// Store backends for persisted mappings.
const (
	StoreNone  = "none"
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Cfg holds all runtime configuration loaded from environment variables.
type Cfg struct {
	// Core
	Salt                string
	Strategy            Strategy
	MergeMode           sanitize.MergeMode
	PatternsFile        string       // HCL file with extra pattern blocks
	Patterns            []PatternCfg // loaded from PatternsFile
	EntityLabels        []string     // labels requested from the delegated extractor
	ConfidenceThreshold float64
	MaxTextLength       int // delegated extractor input limit, characters

	// NER sidecar, used by the hybrid strategy when set
	NERURL string

	// Completion upstream (OpenAI-compatible)
	LLMURL        string
	LLMModel      string
	LLMAPIKey     string
	LLMPrivateKey string // comma-separated hex secp256k1 keys; enables request signing
	LLMAddress    string // comma-separated requester addresses, one per key
	LLMTimeout    time.Duration
	CAFile        string
	CAPath        string

	// Pipeline
	PromptTemplate   string
	MaxChunkLength   int
	MaxChunks        int
	IncludeDebugInfo bool

	// Mapping vault
	Store     string
	StorePath string
	RedisAddr string
	StoreTTL  time.Duration

	// Transports
	NATSURL     string
	NATSSubject string
	ListenAddr  string
}

// Load reads .env (if present) then environment variables, loads the
// patterns file and validates the result.
func Load() (*Cfg, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	var p parser
	cfg := &Cfg{
		Salt:                strings.TrimSpace(os.Getenv("RAGGUARD_SALT")),
		PatternsFile:        p.path("RAGGUARD_PATTERNS_FILE", ""),
		EntityLabels:        p.csv("RAGGUARD_ENTITY_LABELS"),
		ConfidenceThreshold: p.float("RAGGUARD_CONFIDENCE_THRESHOLD", 0.7),
		MaxTextLength:       p.int("RAGGUARD_MAX_TEXT_LENGTH", 2000),

		NERURL: p.str("RAGGUARD_NER_URL", ""),

		LLMURL:        strings.TrimRight(p.str("RAGGUARD_LLM_URL", "http://localhost:11434"), "/"),
		LLMModel:      p.str("RAGGUARD_LLM_MODEL", "qwen2.5:7b"),
		LLMAPIKey:     p.str("RAGGUARD_LLM_API_KEY", ""),
		LLMPrivateKey: p.str("RAGGUARD_LLM_PRIVATE_KEY", ""),
		LLMAddress:    p.str("RAGGUARD_LLM_ADDRESS", ""),
		LLMTimeout:    p.duration("RAGGUARD_LLM_TIMEOUT", 120*time.Second),
		CAFile:        p.path("RAGGUARD_CA_FILE", ""),
		CAPath:        p.path("RAGGUARD_CA_PATH", ""),

		PromptTemplate:   os.Getenv("RAGGUARD_PROMPT_TEMPLATE"),
		MaxChunkLength:   p.int("RAGGUARD_MAX_CHUNK_LENGTH", 10000),
		MaxChunks:        p.int("RAGGUARD_MAX_CHUNKS", 50),
		IncludeDebugInfo: p.bool("RAGGUARD_DEBUG"),

		Store:     strings.ToLower(p.str("RAGGUARD_STORE", StoreNone)),
		StorePath: p.path("RAGGUARD_STORE_PATH", "~/.ragguard/mappings"),
		RedisAddr: p.str("RAGGUARD_REDIS_ADDR", "localhost:6379"),
		StoreTTL:  p.duration("RAGGUARD_STORE_TTL", 24*time.Hour),

		NATSURL:     p.str("RAGGUARD_NATS_URL", ""),
		NATSSubject: p.str("RAGGUARD_NATS_SUBJECT", "ragguard"),
		ListenAddr:  ":" + p.str("PORT", "8080"),
	}

	var err error
	if cfg.Strategy, err = ParseStrategy(os.Getenv("RAGGUARD_STRATEGY")); err != nil {
		return nil, err
	}
	if cfg.MergeMode, err = sanitize.ParseMergeMode(os.Getenv("RAGGUARD_MERGE_MODE")); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, sanitize.ConfigError("environment", p.err)
	}

	if cfg.PatternsFile != "" {
		pf, err := ParsePatterns(cfg.PatternsFile)
		if err != nil {
			return nil, err
		}
		cfg.Patterns = pf.Patterns
		if len(cfg.EntityLabels) == 0 {
			cfg.EntityLabels = pf.EntityLabels
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration surface eagerly so bad settings fail at
// startup rather than on the first request.
func (c *Cfg) Validate() error {
	if len([]rune(c.Salt)) < sanitize.MinSaltLength {
		return sanitize.ConfigError("RAGGUARD_SALT", sanitize.ErrShortSalt)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return sanitize.ConfigError("RAGGUARD_CONFIDENCE_THRESHOLD", fmt.Errorf("%v outside [0,1]", c.ConfidenceThreshold))
	}
	for name, v := range map[string]int{
		"RAGGUARD_MAX_TEXT_LENGTH":  c.MaxTextLength,
		"RAGGUARD_MAX_CHUNK_LENGTH": c.MaxChunkLength,
		"RAGGUARD_MAX_CHUNKS":       c.MaxChunks,
	} {
		if v <= 0 {
			return sanitize.ConfigError(name, fmt.Errorf("must be positive, got %d", v))
		}
	}
	for _, l := range c.EntityLabels {
		if !sanitize.ValidLabel(l) {
			return sanitize.ConfigError("RAGGUARD_ENTITY_LABELS", fmt.Errorf("%w: %q", sanitize.ErrInvalidLabel, l))
		}
	}
	switch c.Store {
	case StoreNone, StoreFile, StoreRedis:
	default:
		return sanitize.ConfigError("RAGGUARD_STORE", fmt.Errorf("unknown store %q", c.Store))
	}
	return nil
}

// Redacted returns a view of the configuration that is safe to log.
func (c *Cfg) Redacted() map[string]any {
	hide := func(s string) string {
		if s == "" {
			return ""
		}
		return "[HIDDEN]"
	}
	labels := make([]string, len(c.Patterns))
	for i, p := range c.Patterns {
		labels[i] = p.Label
	}
	return map[string]any{
		"salt":                 hide(c.Salt),
		"strategy":             string(c.Strategy),
		"merge_mode":           c.MergeMode.String(),
		"custom_patterns":      labels,
		"entity_labels":        c.EntityLabels,
		"confidence_threshold": c.ConfidenceThreshold,
		"max_text_length":      c.MaxTextLength,
		"ner_url":              c.NERURL,
		"llm_url":              c.LLMURL,
		"llm_model":            c.LLMModel,
		"llm_api_key":          hide(c.LLMAPIKey),
		"llm_private_key":      hide(c.LLMPrivateKey),
		"max_chunk_length":     c.MaxChunkLength,
		"max_chunks":           c.MaxChunks,
		"include_debug_info":   c.IncludeDebugInfo,
		"store":                c.Store,
		"nats_url":             c.NATSURL,
		"listen_addr":          c.ListenAddr,
	}
}

// parser reads typed environment variables and keeps the first error.
type parser struct {
	err error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) path(key, def string) string {
	v := p.str(key, def)
	if v == "" {
		return ""
	}
	expanded, err := homedir.Expand(v)
	if err != nil {
		p.fail(key, err)
		return v
	}
	return expanded
}

func (p *parser) bool(key string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	return raw == "1" || strings.EqualFold(raw, "true")
}

func (p *parser) int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) csv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
}
