package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// RuleSet defines the collection universe: which indices are collected
// and under which expiry rules. It drives the (index, rule) keys used by
// the shadow comparator and the gating engine.
type RuleSet struct {
	Indices []IndexRules `yaml:"indices"`
}

// IndexRules lists the expiry rules collected for one index.
type IndexRules struct {
	Symbol string   `yaml:"symbol"`
	Rules  []string `yaml:"rules"`
}

var validRules = map[string]bool{
	"this_week":  true,
	"next_week":  true,
	"this_month": true,
	"next_month": true,
}

// LoadRules reads and validates a rule-set file.
func LoadRules(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read rules %s", path)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return nil, eris.Wrapf(err, "config: parse rules %s", path)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks the rule set for empty or unknown entries.
func (rs *RuleSet) Validate() error {
	if len(rs.Indices) == 0 {
		return eris.New("config: rule set has no indices")
	}
	seen := make(map[string]bool)
	for _, ir := range rs.Indices {
		if ir.Symbol == "" {
			return eris.New("config: rule set entry missing symbol")
		}
		if seen[ir.Symbol] {
			return eris.Errorf("config: duplicate index %s", ir.Symbol)
		}
		seen[ir.Symbol] = true
		if len(ir.Rules) == 0 {
			return eris.Errorf("config: index %s has no rules", ir.Symbol)
		}
		for _, r := range ir.Rules {
			if !validRules[r] {
				return eris.Errorf("config: index %s has unknown rule %q", ir.Symbol, r)
			}
		}
	}
	return nil
}

// Keys expands the rule set into its flat (index, rule) pairs.
func (rs *RuleSet) Keys() [][2]string {
	var keys [][2]string
	for _, ir := range rs.Indices {
		for _, r := range ir.Rules {
			keys = append(keys, [2]string{ir.Symbol, r})
		}
	}
	return keys
}
