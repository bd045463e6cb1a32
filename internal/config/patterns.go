package config

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/mitchellh/go-homedir"

	"github.com/gonkalabs/ragguard/internal/sanitize"
)

// PatternCfg is one "pattern" block of a patterns file:
//
//	pattern "EMPLOYEE_ID" {
//	  match = "EMP-[0-9]{6}"
//	}
type PatternCfg struct {
	Label string `hcl:"label,label"`
	Match string `hcl:"match"`
}

// PatternFile is the decoded patterns file. entity_labels, when present,
// is used as the delegated label list unless RAGGUARD_ENTITY_LABELS is set.
type PatternFile struct {
	Patterns     []PatternCfg `hcl:"pattern,block"`
	EntityLabels []string     `hcl:"entity_labels,optional"`
}

// ParsePatterns decodes and checks an HCL patterns file. Bad labels and
// expressions that do not compile are configuration errors.
func ParsePatterns(path string) (*PatternFile, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, sanitize.ConfigError("patterns file", err)
	}
	var pf PatternFile
	if err := hclsimple.DecodeFile(expanded, nil, &pf); err != nil {
		return nil, sanitize.ConfigError("patterns file "+expanded, err)
	}

	seen := make(map[string]bool, len(pf.Patterns))
	for _, p := range pf.Patterns {
		if !sanitize.ValidLabel(p.Label) {
			return nil, sanitize.ConfigError("patterns file", fmt.Errorf("%w: %q", sanitize.ErrInvalidLabel, p.Label))
		}
		if seen[p.Label] {
			return nil, sanitize.ConfigError("patterns file", fmt.Errorf("duplicate pattern %q", p.Label))
		}
		seen[p.Label] = true
		if _, err := regexp.Compile(p.Match); err != nil {
			return nil, sanitize.ConfigError("pattern "+p.Label, err)
		}
	}
	return &pf, nil
}
