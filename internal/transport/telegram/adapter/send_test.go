package adapter

import (
	"strings"
	"testing"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("line one\n", 20)
	chunks := splitText(text, 60)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 60 {
			t.Fatalf("chunk exceeds limit: %d runes", len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has dangling newline: %q", c)
		}
	}
	joined := strings.Join(chunks, "\n") + "\n"
	if joined != text {
		t.Fatalf("content lost after split")
	}
}

func TestSplitTextNoBoundary(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("x", 150)
	chunks := splitText(text, 60)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Fatalf("content lost after split")
	}
}
