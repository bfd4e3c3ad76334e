// Package render turns structured resume documents into downloadable
// files. The Markdown renderer is the default; the core.Renderer contract
// keeps richer formats (PDF, DOCX) pluggable.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/jobmesh/jobmesh/core"
)

// MarkdownRenderer implements core.Renderer producing a Markdown document.
type MarkdownRenderer struct{}

// NewMarkdownRenderer returns a Markdown renderer.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{}
}

// Render produces the Markdown bytes for doc. An empty body is rejected as
// invalid input.
func (r *MarkdownRenderer) Render(ctx context.Context, doc core.ResumeDocument) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Body) == "" {
		return nil, core.InputInvalid("render", fmt.Errorf("document body is empty"))
	}

	var b strings.Builder
	if title := strings.TrimSpace(doc.Title); title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	b.WriteString(strings.TrimSpace(doc.Body))
	b.WriteString("\n")
	if len(doc.Keywords) > 0 {
		b.WriteString("\n## Keywords\n\n")
		for _, kw := range doc.Keywords {
			fmt.Fprintf(&b, "- %s\n", kw)
		}
	}
	return []byte(b.String()), nil
}
