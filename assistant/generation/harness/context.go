package harness

import (
	"sort"
	"strings"
)

// Snippet is a retrieved chunk with a score and token estimate.
type Snippet struct {
	Text       string
	Score      float64 // higher is better
	TokenCount int
	Source     string // optional provenance
}

// Budget specifies maximum tokens allocated to context packing.
type Budget struct {
	MaxContextTokens int // hard cap for context snippets
	MaxSnippets      int // safety bound on number of chunks
}

// ContextAssembler selects and packs context snippets within a token budget.
type ContextAssembler struct {
	defaultBudget Budget
	// TokenEstimator counts tokens of snippets that carry no TokenCount.
	TokenEstimator func(s string) int
}

// NewContextAssembler creates an assembler packing into b by default. A nil
// est counts four bytes per token.
func NewContextAssembler(b Budget, est func(s string) int) *ContextAssembler {
	if est == nil {
		est = func(s string) int { return (len(s) + 3) / 4 }
	}
	return &ContextAssembler{defaultBudget: b, TokenEstimator: est}
}

// Pack orders snippets by score, keeping input order on ties, and packs as
// many as fit the budget. Snippets are rendered with their source when known.
func (a *ContextAssembler) Pack(snippets []Snippet, b *Budget) []string {
	if b == nil {
		b = &a.defaultBudget
	}
	if len(snippets) == 0 || b.MaxContextTokens <= 0 || b.MaxSnippets <= 0 {
		return nil
	}

	ordered := make([]Snippet, len(snippets))
	copy(ordered, snippets)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	remaining := b.MaxContextTokens
	packed := make([]string, 0, min(len(ordered), b.MaxSnippets))

	for _, sn := range ordered {
		if len(packed) >= b.MaxSnippets {
			break
		}
		text := normalize(sn.Text)
		if text == "" {
			continue
		}
		if sn.TokenCount <= 0 {
			sn.TokenCount = a.TokenEstimator(text)
		}
		if sn.TokenCount > remaining {
			continue
		}
		if sn.Source != "" {
			text = "[" + sn.Source + "] " + text
		}
		packed = append(packed, text)
		remaining -= sn.TokenCount
		if remaining <= 0 {
			break
		}
	}

	return packed
}

func normalize(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }
