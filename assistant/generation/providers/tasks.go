package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultSummaryLength is used by Summarize when maxLength is not positive.
const DefaultSummaryLength = 280

var sentimentSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["sentiment", "score"],
  "properties": {
    "sentiment": {"type": "string", "enum": ["positive", "negative", "neutral", "frustrated"]},
    "score": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`)

func classificationSchema(categories []string) gojsonschema.JSONLoader {
	return gojsonschema.NewGoLoader(map[string]any{
		"type":     "object",
		"required": []string{"category", "confidence"},
		"properties": map[string]any{
			"category":   map[string]any{"type": "string", "enum": categories},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
	})
}

// ClassifyText asks the model to pick one of categories for text. A reply
// that does not validate degrades to the first category with confidence 0.
func (c *Client) ClassifyText(ctx context.Context, text string, categories []string, contextHint string) (Classification, error) {
	if len(categories) == 0 {
		return Classification{}, ErrNoCategories
	}

	var b strings.Builder
	b.WriteString("Classify the user's text into exactly one of these categories: ")
	b.WriteString(strings.Join(categories, ", "))
	b.WriteString(".\nReply with a JSON object {\"category\": <one of the categories>, \"confidence\": <number from 0 to 1>} and nothing else.")
	if contextHint != "" {
		b.WriteString("\nContext: ")
		b.WriteString(contextHint)
	}

	out, err := c.completeJSON(ctx, "classify", b.String(), text)
	if err != nil {
		return Classification{}, err
	}

	fallback := Classification{Category: categories[0], Confidence: 0}
	var result Classification
	if err := decodeValidated(out, classificationSchema(categories), &result); err != nil {
		c.logger.Debug().Err(err).Msg("classification reply rejected")
		return fallback, nil
	}
	return result, nil
}

// AnalyzeSentiment labels text as positive, negative, neutral or frustrated.
// A reply that does not validate degrades to neutral with score 0.
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error) {
	system := "Analyze the sentiment of the user's text. " +
		"Reply with a JSON object {\"sentiment\": \"positive\"|\"negative\"|\"neutral\"|\"frustrated\", \"score\": <confidence from 0 to 1>} and nothing else."

	out, err := c.completeJSON(ctx, "sentiment", system, text)
	if err != nil {
		return Sentiment{}, err
	}

	var result Sentiment
	if err := decodeValidated(out, sentimentSchema, &result); err != nil {
		c.logger.Debug().Err(err).Msg("sentiment reply rejected")
		return Sentiment{Label: SentimentNeutral, Score: 0}, nil
	}
	return result, nil
}

// Summarize condenses text to at most maxLength characters.
func (c *Client) Summarize(ctx context.Context, text string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = DefaultSummaryLength
	}
	system := fmt.Sprintf("Summarize the user's text in at most %d characters. Reply with the summary only.", maxLength)

	req := c.request(system, []ports.Turn{ports.UserTurn(text)}, Options{})
	out, err := c.complete(ctx, "summarize", req)
	if err != nil {
		return "", err
	}
	return truncateRunes(strings.TrimSpace(out.Content), maxLength), nil
}

func (c *Client) completeJSON(ctx context.Context, op, system, text string) (string, error) {
	req := c.request(system, []ports.Turn{ports.UserTurn(text)}, Options{})
	req.Temperature = 0
	req.JSON = true
	out, err := c.complete(ctx, op, req)
	if err != nil {
		return "", err
	}
	return out.Content, nil
}

// decodeValidated extracts the JSON object from a model reply, validates it
// against schema and decodes it into v.
func decodeValidated(reply string, schema gojsonschema.JSONLoader, v any) error {
	doc := extractJSONObject(reply)
	if doc == "" {
		return fmt.Errorf("no JSON object in reply")
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return json.Unmarshal([]byte(doc), v)
}

// extractJSONObject returns the outermost {...} span, tolerating code fences
// and prose around it.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
