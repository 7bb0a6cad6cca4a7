// Package story turns raw model output into a validated first-page story.
package story

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParsedStory is the validated result of the story step.
type ParsedStory struct {
	Title              string
	Page1Text          string
	IllustrationPrompt string
}

// ParseError explains why model output could not be used. Retrying the same
// prompt rarely fixes it.
type ParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("story parse: %s: %v", e.Reason, e.Err)
	}
	return "story parse: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "page1Text"],
  "properties": {
    "title": {"type": "string", "minLength": 3, "maxLength": 120},
    "page1Text": {"type": "string", "minLength": 10, "maxLength": 2000},
    "illustrationPrompt": {"type": "string"}
  }
}`

var storySchema = jsonschema.MustCompileString("story.schema.json", schemaJSON)

// Field aliases seen in model output, in order of preference.
var (
	titleKeys  = []string{"title", "bookTitle", "book_title"}
	textKeys   = []string{"page1Text", "storyText", "page1_text", "story_text", "text"}
	promptKeys = []string{"illustrationPrompt", "illustration_prompt"}
)

// Parse extracts the story from raw model content. Markdown code fences and
// text around the JSON object are tolerated. Any failure is a *ParseError.
func Parse(raw string) (ParsedStory, error) {
	doc, err := decodeObject(raw)
	if err != nil {
		return ParsedStory{}, &ParseError{Reason: "no json object in response", Raw: raw, Err: err}
	}

	normalized := map[string]any{}
	copyFirst(doc, normalized, "title", titleKeys)
	copyFirst(doc, normalized, "page1Text", textKeys)
	copyFirst(doc, normalized, "illustrationPrompt", promptKeys)

	if err := storySchema.Validate(normalized); err != nil {
		return ParsedStory{}, &ParseError{Reason: "response failed validation", Raw: raw, Err: err}
	}

	out := ParsedStory{
		Title:     strings.TrimSpace(normalized["title"].(string)),
		Page1Text: strings.TrimSpace(normalized["page1Text"].(string)),
	}
	if p, ok := normalized["illustrationPrompt"].(string); ok {
		out.IllustrationPrompt = strings.TrimSpace(p)
	}
	return out, nil
}

func copyFirst(src, dst map[string]any, canonical string, keys []string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			if s, isString := v.(string); isString {
				v = strings.TrimSpace(s)
			}
			dst[canonical] = v
			return
		}
	}
}

func decodeObject(raw string) (map[string]any, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return nil, errors.New("empty response")
	}
	candidates := []string{content, trimCodeFence(content), extractObject(content)}
	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(c), &doc); err != nil {
			lastErr = err
			continue
		}
		if doc == nil {
			lastErr = errors.New("json value is not an object")
			continue
		}
		return doc, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate")
	}
	return nil, lastErr
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}
	if nl := strings.Index(trimmed, "\n"); nl >= 0 {
		trimmed = trimmed[nl+1:]
	} else {
		trimmed = strings.TrimPrefix(trimmed, "```")
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

func extractObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}
