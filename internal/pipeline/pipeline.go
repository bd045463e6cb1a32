// Package pipeline wraps a Masker for retrieval-augmented generation: context
// chunks are masked together under one mapping, a prompt explaining the
// placeholders is built around them, and the model's answer is restored.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

const (
	DefaultMaxChunkLength = 10000
	DefaultMaxChunks      = 50
	DefaultContextFormat  = "[CTX#{i}]\n{content}"

	// TruncationMarker is appended to chunks cut at MaxChunkLength.
	TruncationMarker = "...[truncated]"
	// NoContext stands in for an empty chunk list.
	NoContext = "[NO CONTEXT]"
)

// DefaultTemplate explains the placeholder format to the model.
const DefaultTemplate = "You will see masked context and a question.\n" +
	"Placeholders have the form <RG:{KIND}:{HASH}> and stand for one entity of that kind (EMAIL, PHONE, IDCN, IPV4 and so on).\n" +
	"Ignore the hidden values and answer from the meaning of the context.\n" +
	"If you need to refer to a specific value, repeat its placeholder exactly and do not guess the original.\n"

// ErrTooManyChunks is returned when a request carries more than MaxChunks
// non-blank chunks.
var ErrTooManyChunks = errors.New("too many context chunks")

// Generator produces the model's answer for a prompt.
type Generator func(ctx context.Context, prompt string) (string, error)

// Options configures a Pipeline. Zero values select the defaults.
type Options struct {
	MaxChunkLength int    // characters per chunk
	MaxChunks      int    // chunks per request
	Template       string // instructions placed before the context
	ContextFormat  string // per-chunk layout with {i} and {content}
	Logger         hclog.Logger
}

// Pipeline masks chunks, builds prompts and restores answers.
type Pipeline struct {
	masker *sanitize.Masker
	opts   Options
}

// New creates a Pipeline around masker.
func New(masker *sanitize.Masker, opts Options) *Pipeline {
	if opts.MaxChunkLength <= 0 {
		opts.MaxChunkLength = DefaultMaxChunkLength
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = DefaultMaxChunks
	}
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.ContextFormat == "" {
		opts.ContextFormat = DefaultContextFormat
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Pipeline{masker: masker, opts: opts}
}

// Masker returns the underlying masker.
func (p *Pipeline) Masker() *sanitize.Masker { return p.masker }

// CleanChunks trims every chunk, drops blank ones and truncates the rest to
// MaxChunkLength characters.
func (p *Pipeline) CleanChunks(chunks []string) ([]string, error) {
	cleaned := make([]string, 0, len(chunks))
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		cleaned = append(cleaned, truncateRunes(c, p.opts.MaxChunkLength))
	}
	if len(cleaned) > p.opts.MaxChunks {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyChunks, len(cleaned), p.opts.MaxChunks)
	}
	return cleaned, nil
}

// PrepareChunks masks every chunk and merges the per-chunk mappings. Equal
// values share a token across chunks.
func (p *Pipeline) PrepareChunks(ctx context.Context, chunks []string) ([]string, sanitize.Mapping, error) {
	cleaned, err := p.CleanChunks(chunks)
	if err != nil {
		return nil, nil, err
	}
	masked := make([]string, len(cleaned))
	mapping := make(sanitize.Mapping)
	for i, c := range cleaned {
		res, err := p.masker.Mask(ctx, c)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "chunk %d", i+1)
		}
		masked[i] = res.Text
		mapping.Merge(res.Mapping)
	}
	return masked, mapping, nil
}

// BuildPrompt lays out the instructions, the numbered masked chunks and the
// question.
func (p *Pipeline) BuildPrompt(question string, maskedChunks []string) string {
	return BuildPrompt(question, maskedChunks, p.opts.Template, p.opts.ContextFormat)
}

// BuildPrompt is the option-free form of Pipeline.BuildPrompt. Empty template
// or contextFormat select the defaults.
func BuildPrompt(question string, maskedChunks []string, template, contextFormat string) string {
	if template == "" {
		template = DefaultTemplate
	}
	if contextFormat == "" {
		contextFormat = DefaultContextFormat
	}

	ctx := NoContext
	if len(maskedChunks) > 0 {
		parts := make([]string, len(maskedChunks))
		for i, c := range maskedChunks {
			parts[i] = strings.NewReplacer("{i}", strconv.Itoa(i+1), "{content}", c).Replace(contextFormat)
		}
		ctx = strings.Join(parts, "\n\n")
	}

	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\n")
	b.WriteString(ctx)
	b.WriteString("\n\n[QUESTION]\n")
	b.WriteString(question)
	return b.String()
}

// Postprocess restores answer. With unmask false the answer is returned as is;
// a non-empty labels list restricts restoration to those labels.
func (p *Pipeline) Postprocess(answer string, mapping sanitize.Mapping, unmask bool, labels []string) (string, error) {
	if !unmask {
		return answer, nil
	}
	if len(labels) > 0 {
		return p.masker.UnmaskLabels(answer, mapping, labels)
	}
	return p.masker.Unmask(answer, mapping)
}

// EstimateTokens is a rough token count for mixed Chinese and Latin text:
// one per CJK ideograph and three quarters per other non-blank character.
func EstimateTokens(text string) int {
	cjk, other := 0, 0
	for _, r := range text {
		switch {
		case r >= '一' && r <= '鿿':
			cjk++
		case r == ' ' || r == '\n':
		default:
			other++
		}
	}
	return int(float64(cjk) + float64(other)*0.75)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + TruncationMarker
		}
		count++
	}
	return s
}
