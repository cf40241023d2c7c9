// Package parse extracts structured data from free-form model output.
// Models are asked for JSON but routinely wrap it in markdown fences or
// prose, so every consumer goes through the fallback ladder here instead of
// calling json.Unmarshal on raw text.
package parse

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON means no parseable JSON object was found anywhere in the text.
var ErrNoJSON = errors.New("parse: no json object found")

// ExtractJSON pulls the first JSON object out of model text. Ladder:
// fenced ```json block, then any fenced block, then the outermost brace
// span of the raw text. The result is validated before being returned.
func ExtractJSON(text string) (string, error) {
	candidates := []string{}

	if fenced, ok := fencedBlock(text, "```json"); ok {
		candidates = append(candidates, fenced)
	}
	if fenced, ok := fencedBlock(text, "```"); ok {
		candidates = append(candidates, fenced)
	}
	if span, ok := braceSpan(text); ok {
		candidates = append(candidates, span)
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if span, ok := braceSpan(candidate); ok {
			candidate = span
		}
		if gjson.Valid(candidate) && gjson.Parse(candidate).IsObject() {
			return candidate, nil
		}
	}
	return "", ErrNoJSON
}

// Unmarshal extracts JSON from model text and decodes it into v.
func Unmarshal(text string, v interface{}) error {
	payload, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(payload), v)
}

// StringField reads a string field from already-extracted JSON, returning
// fallback when the field is missing or empty.
func StringField(payload, path, fallback string) string {
	value := strings.TrimSpace(gjson.Get(payload, path).String())
	if value == "" {
		return fallback
	}
	return value
}

// StringSlice reads an array of strings from already-extracted JSON.
func StringSlice(payload, path string) []string {
	result := gjson.Get(payload, path)
	if !result.IsArray() {
		return nil
	}
	var out []string
	result.ForEach(func(_, item gjson.Result) bool {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

// Questions extracts up to max question lines from plain text. This is the
// last rung of the ladder when the model ignored the JSON instruction.
func Questions(text string, max int) []string {
	if max <= 0 {
		max = 3
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "?") {
			continue
		}
		line = strings.TrimLeft(line, "-*0123456789. \t")
		line = strings.Trim(line, `"`)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) >= max {
			break
		}
	}
	return out
}

// FencedCode extracts the first fenced code block and its language tag. Used
// by the code handler; returns the raw text with no fences when none exist.
func FencedCode(text string) (code string, language string) {
	idx := strings.Index(text, "```")
	if idx == -1 {
		return strings.TrimSpace(text), ""
	}
	rest := text[idx+3:]
	newline := strings.Index(rest, "\n")
	if newline == -1 {
		return strings.TrimSpace(text), ""
	}
	language = strings.TrimSpace(rest[:newline])
	body := rest[newline+1:]
	end := strings.Index(body, "```")
	if end == -1 {
		return strings.TrimSpace(body), language
	}
	return strings.TrimSpace(body[:end]), language
}

func fencedBlock(text, fence string) (string, bool) {
	idx := strings.Index(text, fence)
	if idx == -1 {
		return "", false
	}
	rest := text[idx+len(fence):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

func braceSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
