package cmd

import (
	"strings"
	"testing"
)

func TestRenderMarkdownFallsBackOnPlainText(t *testing.T) {
	got := renderMarkdown("just a sentence")
	if !strings.Contains(got, "just a sentence") {
		t.Errorf("rendered output lost the text: %q", got)
	}
}

func TestRenderMarkdownHandlesMarkdown(t *testing.T) {
	got := renderMarkdown("# Heading\n\n- item one\n- item two")
	if !strings.Contains(got, "item one") || !strings.Contains(got, "item two") {
		t.Errorf("rendered output lost list items: %q", got)
	}
}
