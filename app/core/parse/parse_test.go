package parse

import (
	"testing"
)

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here you go:\n```json\n{\"questions\": [\"When did it start?\"], \"category\": \"identify\"}\n```\nLet me know."
	payload, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got := StringField(payload, "category", ""); got != "identify" {
		t.Fatalf("unexpected category: %q", got)
	}
}

func TestExtractJSONBareFence(t *testing.T) {
	text := "```\n{\"decision\": \"new\"}\n```"
	payload, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got := StringField(payload, "decision", ""); got != "new" {
		t.Fatalf("unexpected decision: %q", got)
	}
}

func TestExtractJSONRawBraces(t *testing.T) {
	text := `The answer is {"urgency_level": "Critical"} as requested.`
	payload, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got := StringField(payload, "urgency_level", ""); got != "Critical" {
		t.Fatalf("unexpected urgency: %q", got)
	}
}

func TestExtractJSONNothingFound(t *testing.T) {
	if _, err := ExtractJSON("no structured data here"); err != ErrNoJSON {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestExtractJSONInvalidThenValid(t *testing.T) {
	// fenced block is broken, raw brace span still parses
	text := "```json\n[not an object]\n```\ntrailing {\"ok\": true}"
	payload, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got := StringField(payload, "ok", ""); got != "true" {
		t.Fatalf("unexpected value: %q", got)
	}
}

func TestStringSlice(t *testing.T) {
	payload := `{"questions": ["a?", " b? ", ""]}`
	got := StringSlice(payload, "questions")
	if len(got) != 2 {
		t.Fatalf("expected 2 questions, got %d: %v", len(got), got)
	}
	if got[1] != "b?" {
		t.Fatalf("expected trimmed question, got %q", got[1])
	}
}

func TestQuestionsHeuristic(t *testing.T) {
	text := "Sure, let me ask:\n1. When did sales drop?\n- What is the impact?\nNot a question line\n3. Who noticed? \n4. One too many?"
	got := Questions(text, 3)
	if len(got) != 3 {
		t.Fatalf("expected cap of 3, got %d: %v", len(got), got)
	}
	if got[0] != "When did sales drop?" {
		t.Fatalf("unexpected first question: %q", got[0])
	}
}

func TestQuestionsNone(t *testing.T) {
	if got := Questions("no questions at all", 3); len(got) != 0 {
		t.Fatalf("expected none, got %v", got)
	}
}

func TestFencedCode(t *testing.T) {
	text := "Here:\n```go\nfunc main() {}\n```\nexplained above"
	code, lang := FencedCode(text)
	if lang != "go" {
		t.Fatalf("unexpected language: %q", lang)
	}
	if code != "func main() {}" {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestFencedCodeNoFence(t *testing.T) {
	code, lang := FencedCode("  plain response ")
	if code != "plain response" || lang != "" {
		t.Fatalf("unexpected result: %q %q", code, lang)
	}
}
