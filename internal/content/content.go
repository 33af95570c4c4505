// Package content renders user-authored Markdown and derives plain-text previews.
package content

import (
	"bytes"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// PreviewLength is the maximum number of characters kept in a preview before the ellipsis.
const PreviewLength = 100

const ellipsis = "..."

// Renderer converts Markdown to sanitized HTML.
type Renderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
	strict   *bluemonday.Policy
}

// NewRenderer builds a renderer with GFM enabled and a UGC sanitization policy.
func NewRenderer() *Renderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowImages()
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoReferrerOnLinks(true)

	return &Renderer{
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps(), goldmarkhtml.WithXHTML()),
		),
		policy: policy,
		strict: bluemonday.StrictPolicy(),
	}
}

// HTML renders source as sanitized HTML. Sources that fail to parse are escaped verbatim.
func (r *Renderer) HTML(source string) string {
	var buffer bytes.Buffer
	if err := r.markdown.Convert([]byte(source), &buffer); err != nil {
		return html.EscapeString(source)
	}
	return string(r.policy.SanitizeBytes(buffer.Bytes()))
}

// PlainText strips all markup from source and collapses whitespace.
func (r *Renderer) PlainText(source string) string {
	stripped := html.UnescapeString(r.strict.Sanitize(r.HTML(source)))
	return strings.Join(strings.Fields(stripped), " ")
}

// Preview returns at most PreviewLength characters of the plain text, suffixed with "..." when cut.
func (r *Renderer) Preview(source string) string {
	return Truncate(r.PlainText(source), PreviewLength)
}

// Truncate cuts text to limit runes and appends an ellipsis when anything was removed.
func Truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:limit]), " ") + ellipsis
}

// Length counts the characters of source after trimming surrounding whitespace.
func Length(source string) int {
	return utf8.RuneCountInString(strings.TrimSpace(source))
}
