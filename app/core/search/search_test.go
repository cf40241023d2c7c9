package search

import (
	"testing"
)

const samplePage = `
<div class="result">
  <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fgo&amp;rut=abc">The <b>Go</b> Programming Language</a>
  <a class="result__snippet" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fgo">Go is an open source language &amp; toolchain.</a>
</div>
<div class="result">
  <a rel="nofollow" class="result__a" href="https://example.org/news">Example News</a>
  <a class="result__snippet" href="https://example.org/news">Latest <em>updates</em> here.</a>
</div>
`

func TestParseResults(t *testing.T) {
	items := ParseResults(samplePage, 5)
	if len(items) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(items), items)
	}

	if items[0].Title != "The Go Programming Language" {
		t.Fatalf("unexpected title: %q", items[0].Title)
	}
	if items[0].URL != "https://example.com/go" {
		t.Fatalf("redirect not unwrapped: %q", items[0].URL)
	}
	if items[0].Snippet != "Go is an open source language & toolchain." {
		t.Fatalf("unexpected snippet: %q", items[0].Snippet)
	}

	if items[1].URL != "https://example.org/news" {
		t.Fatalf("unexpected url: %q", items[1].URL)
	}
	if items[1].Snippet != "Latest updates here." {
		t.Fatalf("unexpected snippet: %q", items[1].Snippet)
	}
}

func TestParseResultsMax(t *testing.T) {
	if items := ParseResults(samplePage, 1); len(items) != 1 {
		t.Fatalf("expected max of 1, got %d", len(items))
	}
}

func TestParseResultsEmptyPage(t *testing.T) {
	if items := ParseResults("<html><body>nothing</body></html>", 5); len(items) != 0 {
		t.Fatalf("expected no results, got %v", items)
	}
}

func TestFormatContext(t *testing.T) {
	if got := FormatContext(nil); got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
	got := FormatContext([]Item{{Title: "T", URL: "u", Snippet: "s"}})
	if got == "" {
		t.Fatal("expected formatted context")
	}
}
