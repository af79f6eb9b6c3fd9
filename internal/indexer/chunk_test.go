package indexer

import (
	"strings"
	"testing"
)

func TestChunkWithinLimit(t *testing.T) {
	got := Chunk("small text", 100)
	if len(got) != 1 || got[0] != "small text" {
		t.Errorf("Chunk = %q, want single original chunk", got)
	}
}

func TestChunkEmptyText(t *testing.T) {
	got := Chunk("", 100)
	if len(got) != 1 || got[0] != "" {
		t.Errorf("Chunk(\"\") = %q, want one empty chunk", got)
	}
}

func TestChunkSplitsAtParagraphs(t *testing.T) {
	text := "first paragraph\n\nsecond paragraph\n\nthird paragraph"
	got := Chunk(text, 36)

	if len(got) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(got))
	}
	for i, c := range got {
		if len(c) > 36 {
			t.Errorf("chunk %d is %d bytes, over limit", i, len(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Errorf("chunk %d carries a dangling separator: %q", i, c)
		}
	}
	if rejoined := strings.Join(got, "\n\n"); rejoined != text {
		t.Errorf("chunks do not rejoin to the original text: %q", rejoined)
	}
}

func TestChunkHardSplitsOversizedParagraph(t *testing.T) {
	text := strings.Repeat("x", 250)
	got := Chunk(text, 100)

	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, c := range got[:2] {
		if len(c) != 100 {
			t.Errorf("chunk %d is %d bytes, want 100", i, len(c))
		}
	}
	if len(got[2]) != 50 {
		t.Errorf("last chunk is %d bytes, want 50", len(got[2]))
	}
}
