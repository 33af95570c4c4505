package content

import (
	"strings"
	"testing"
)

func TestHTMLSanitizesScripts(t *testing.T) {
	renderer := NewRenderer()
	rendered := renderer.HTML("**bold** <script>alert(1)</script>")
	if !strings.Contains(rendered, "<strong>bold</strong>") {
		t.Fatalf("expected markdown emphasis, got %q", rendered)
	}
	if strings.Contains(rendered, "<script>") {
		t.Fatalf("expected script to be stripped, got %q", rendered)
	}
}

func TestPreviewTruncatesLongContent(t *testing.T) {
	renderer := NewRenderer()
	source := "# Heading\n\n" + strings.Repeat("word ", 40)
	preview := renderer.Preview(source)
	if !strings.HasSuffix(preview, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", preview)
	}
	if len([]rune(strings.TrimSuffix(preview, "..."))) > PreviewLength {
		t.Fatalf("preview exceeds %d characters: %q", PreviewLength, preview)
	}
	if strings.Contains(preview, "#") {
		t.Fatalf("expected markdown markers to be stripped, got %q", preview)
	}
}

func TestPreviewKeepsShortContent(t *testing.T) {
	renderer := NewRenderer()
	if preview := renderer.Preview("Use `httpOnly` cookies."); preview != "Use httpOnly cookies." {
		t.Fatalf("unexpected preview %q", preview)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("héllo wörld", 5); got != "héllo..." {
		t.Fatalf("unexpected truncation %q", got)
	}
}
