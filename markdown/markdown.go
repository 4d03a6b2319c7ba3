// Package markdown renders post bodies to HTML for the editor preview.
package markdown

import (
	"bytes"
	"context"
	"io"

	"github.com/a-h/templ"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
)

// Raw HTML in bodies is escaped: goldmark's default renderer omits it
// unless WithUnsafe is set.
var engine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Table,
		extension.Strikethrough,
		extension.TaskList,
		extension.Linkify,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

// Markdown returns a templ.Component that renders md as HTML.
func Markdown(md string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		if err := RenderMarkdown(&buf, md); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	})
}

// RenderMarkdown writes the HTML representation of md to buf.
func RenderMarkdown(buf *bytes.Buffer, md string) error {
	return engine.Convert([]byte(md), buf)
}

// Preview wraps the rendered body in the container the editor styles.
func Preview(title, md string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<article class="post-preview">`); err != nil {
			return err
		}
		if title != "" {
			if _, err := io.WriteString(w, "<h1>"); err != nil {
				return err
			}
			if _, err := io.WriteString(w, templ.EscapeString(title)); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "</h1>"); err != nil {
				return err
			}
		}
		if err := Markdown(md).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</article>")
		return err
	})
}
