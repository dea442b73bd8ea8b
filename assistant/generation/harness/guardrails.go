package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/armon/go-radix"
	"github.com/xeipuuv/gojsonschema"
)

// Guardrails decides which tools the model may call, validates call
// arguments against the tool schema, and masks secrets in replies.
type Guardrails struct {
	allowAll      bool
	allowlist     *radix.Tree // name → wildcard
	outputFilters []*regexp.Regexp
	jsonValidator *JSONValidator
}

// NewGuardrails creates guardrails allowing the given tool names. An entry
// ending in "*" allows every tool with that prefix. An empty list allows all.
func NewGuardrails(allowed []string) *Guardrails {
	g := &Guardrails{
		allowAll:  len(allowed) == 0,
		allowlist: radix.New(),
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password[:=]\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret[:=]\s*\S+`),
			regexp.MustCompile(`(?i)token[:=]\s*\S+`),
		},
		jsonValidator: NewJSONValidator(),
	}
	for _, name := range allowed {
		g.AddAllowedTool(name)
	}
	return g
}

// AddAllowedTool adds a name or "prefix*" pattern to the allowlist.
func (g *Guardrails) AddAllowedTool(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if name == "*" {
		g.allowAll = true
		return
	}
	if prefix, ok := strings.CutSuffix(name, "*"); ok {
		g.allowlist.Insert(prefix, true)
		return
	}
	g.allowlist.Insert(name, false)
}

// Allowed reports whether the model may call the named tool.
func (g *Guardrails) Allowed(name string) bool {
	if g.allowAll {
		return true
	}
	if v, ok := g.allowlist.Get(name); ok && !v.(bool) {
		return true
	}
	allowed := false
	g.allowlist.WalkPath(name, func(_ string, v interface{}) bool {
		allowed = v.(bool)
		return allowed
	})
	return allowed
}

// ValidateToolCall checks that call is allowed and that its arguments are a
// JSON document conforming to the tool's parameter schema.
func (g *Guardrails) ValidateToolCall(call ports.ToolCall, spec ports.ToolSpec) error {
	if call.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if !g.Allowed(call.Name) {
		return fmt.Errorf("tool %s is not in allowlist", call.Name)
	}
	args := normalizeArgs(call.Arguments)
	if !json.Valid(args) {
		return fmt.Errorf("tool arguments are not valid JSON")
	}
	return g.jsonValidator.Validate(args, spec.Parameters)
}

// SanitizeOutput masks credentials the model may have echoed.
func (g *Guardrails) SanitizeOutput(output string) string {
	sanitized := output
	for _, filter := range g.outputFilters {
		sanitized = filter.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks if JSON data conforms to a schema. An empty schema accepts
// any document.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// normalizeArgs treats missing arguments as an empty object.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(args))) == 0 {
		return json.RawMessage(`{}`)
	}
	return args
}
