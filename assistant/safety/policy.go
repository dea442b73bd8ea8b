package safety

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicy []byte

// Policy is the on-disk moderation policy.
type Policy struct {
	Words     map[string][]string `yaml:"words"`     // language code → word list
	Patterns  []string            `yaml:"patterns"`  // raw expressions
	Greetings []string            `yaml:"greetings"` // never useless
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() (Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}
	return p, nil
}

// LoadPolicy reads and decodes a policy file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// compiled is the immutable matcher built from a Policy.
type compiled struct {
	words     *regexp.Regexp // nil when the policy lists no words
	patterns  []*regexp.Regexp
	greetings map[string]struct{}
}

// Go's \b only knows ASCII word characters, so boundaries are spelled out
// against Unicode letters.
const (
	wordStart = `(?:^|[^\p{L}\p{N}])`
	wordEnd   = `(?:$|[^\p{L}\p{N}])`
)

func compile(p Policy) (*compiled, error) {
	c := &compiled{greetings: make(map[string]struct{}, len(p.Greetings))}

	// Deterministic alternation order, longest first so phrases win.
	var terms []string
	for _, words := range p.Words {
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" || w == "*" {
				continue
			}
			terms = append(terms, w)
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i]) != len(terms[j]) {
			return len(terms[i]) > len(terms[j])
		}
		return terms[i] < terms[j]
	})

	if len(terms) > 0 {
		alts := make([]string, len(terms))
		for i, term := range terms {
			alts[i] = wordExpr(term)
		}
		expr := "(?i)" + wordStart + "(?:" + strings.Join(alts, "|") + ")" + wordEnd
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile word list: %w", err)
		}
		c.words = re
	}

	var errs []error
	for _, pattern := range p.Patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("pattern %q: %w", pattern, err))
			continue
		}
		c.patterns = append(c.patterns, re)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, g := range p.Greetings {
		c.greetings[strings.ToLower(strings.TrimSpace(g))] = struct{}{}
	}
	return c, nil
}

// wordExpr turns one word list entry into an expression. Internal whitespace
// matches any run of spaces.
func wordExpr(term string) string {
	wildcard := strings.HasSuffix(term, "*")
	term = strings.TrimSuffix(term, "*")

	parts := strings.Fields(term)
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	expr := strings.Join(parts, `\s+`)
	if wildcard {
		expr += `[\p{L}\p{N}]*`
	}
	return expr
}

func (c *compiled) abusive(text string) bool {
	if c.words != nil && c.words.MatchString(text) {
		return true
	}
	for _, re := range c.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
