package post

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule is one regex substitution. Pattern uses Go regexp syntax;
// Replace may reference capture groups ($1, ${name}). Files, when set,
// is a glob matched against the file's base name to scope the rule.
type Rule struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
	Files   string `yaml:"files"`

	re *regexp.Regexp
}

// compile validates and compiles the rule.
func (r *Rule) compile() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule %q: empty pattern", r.Name)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if r.Files != "" {
		if _, err := filepath.Match(r.Files, "probe"); err != nil {
			return fmt.Errorf("rule %q: bad files glob %q: %w", r.Name, r.Files, err)
		}
	}
	r.re = re
	return nil
}

// applies reports whether the rule is in scope for path.
func (r *Rule) applies(path string) bool {
	if r.Files == "" {
		return true
	}
	ok, _ := filepath.Match(r.Files, filepath.Base(path))
	return ok
}

// RuleSet is an ordered list of compiled rules. Immutable after load,
// safe for concurrent use by workers.
type RuleSet struct {
	rules []Rule
}

// ruleFile is the YAML document shape.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and compiles a YAML rules file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles a YAML rules document.
func ParseRules(data []byte) (*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	for i := range f.Rules {
		if err := f.Rules[i].compile(); err != nil {
			return nil, err
		}
	}
	return &RuleSet{rules: f.Rules}, nil
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Apply runs every in-scope rule over text in order and returns the
// result plus the total number of substitutions made.
func (rs *RuleSet) Apply(path string, text []byte) ([]byte, int) {
	if rs == nil {
		return text, 0
	}
	total := 0
	for i := range rs.rules {
		r := &rs.rules[i]
		if !r.applies(path) {
			continue
		}
		n := len(r.re.FindAllIndex(text, -1))
		if n == 0 {
			continue
		}
		text = r.re.ReplaceAll(text, []byte(r.Replace))
		total += n
	}
	return text, total
}
