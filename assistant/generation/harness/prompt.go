package harness

import (
	"strings"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"
)

// KnowledgeHeader introduces retrieved snippets to the model.
const KnowledgeHeader = "Relevant knowledge for this conversation (use it only when it helps answer):"

// PromptBuilder assembles the turn list sent to the provider.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build returns a new slice: system (when history does not already open with
// a system turn), then the leading system turns of history, then a knowledge
// turn for contextSnippets, then the rest of history. history is not modified.
func (b *PromptBuilder) Build(system string, history []ports.Turn, contextSnippets []string) []ports.Turn {
	out := make([]ports.Turn, 0, len(history)+2)

	system = normalize(system)
	if system != "" && (len(history) == 0 || history[0].Role != ports.RoleSystem) {
		out = append(out, ports.SystemTurn(system))
	}

	lead := 0
	for lead < len(history) && history[lead].Role == ports.RoleSystem {
		lead++
	}
	for _, turn := range history[:lead] {
		out = append(out, normalizeTurn(turn))
	}

	if knowledge := renderKnowledge(contextSnippets); knowledge != "" {
		out = append(out, ports.SystemTurn(knowledge))
	}

	for _, turn := range history[lead:] {
		out = append(out, normalizeTurn(turn))
	}
	return out
}

func normalizeTurn(t ports.Turn) ports.Turn {
	t.Content = normalize(t.Content)
	return t
}

func renderKnowledge(snippets []string) string {
	var b strings.Builder
	for _, s := range snippets {
		s = normalize(s)
		if s == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(KnowledgeHeader)
		}
		b.WriteString("\n- ")
		b.WriteString(strings.ReplaceAll(s, "\n", "\n  "))
	}
	return b.String()
}
