package util

import (
	"strings"
	"testing"
)

func TestSnippet(t *testing.T) {
	in := "Hello\x00   world \n\t again"
	if out := Snippet(in, 100); out != "Hello world again" {
		t.Fatalf("unexpected snippet: %q", out)
	}
	if out := Snippet(strings.Repeat("a", 50), 10); out != strings.Repeat("a", 10)+"..." {
		t.Fatalf("expected clipped snippet, got %q", out)
	}
}

func TestQuerySnippet(t *testing.T) {
	chunk := "Lesson two covers cell biology basics. Photosynthesis converts light into chemical energy. Unrelated appendix text."
	out := QuerySnippet(chunk, "How does photosynthesis store energy?", 200)
	if !strings.Contains(strings.ToLower(out), "photosynthesis") {
		t.Fatalf("expected relevant sentence in snippet, got: %q", out)
	}
	if strings.Contains(out, "appendix") {
		t.Fatalf("unexpected unrelated sentence: %q", out)
	}
}

func TestQuerySnippetFallsBackToHead(t *testing.T) {
	chunk := "First sentence here. Second sentence there."
	if out := QuerySnippet(chunk, "zzz qqq", 200); out != chunk {
		t.Fatalf("expected whole chunk, got %q", out)
	}
}
