// Package render turns blog markdown into HTML with highlighted code blocks.
package render

import (
	"fmt"
	"html"
	"html/template"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/debemdeboas/the-library/internal/cache"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/mmarkdown/mmark/v2/lang"
	"github.com/mmarkdown/mmark/v2/mast"
	"github.com/mmarkdown/mmark/v2/mparser"
	"github.com/mmarkdown/mmark/v2/render/mhtml"
	"github.com/rs/zerolog"
)

var renderLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	renderLogger = l
}

type Rendered struct {
	HTML template.HTML
	Info *mast.TitleData
}

// Renderer renders markdown with one syntax theme and caches results by content hash.
type Renderer struct {
	theme     string
	formatter *chromahtml.Formatter

	rendered *cache.Cache[string, *Rendered]
	css      *cache.Cache[string, template.CSS]
}

func New(syntaxTheme string) *Renderer {
	if styles.Get(syntaxTheme) == styles.Fallback && syntaxTheme != "swapoff" {
		renderLogger.Warn().Str("theme", syntaxTheme).Msg("Unknown syntax theme, using fallback")
	}
	return &Renderer{
		theme: syntaxTheme,
		formatter: chromahtml.New(
			chromahtml.WithClasses(true),
			chromahtml.TabWidth(4),
			chromahtml.WithLineNumbers(true),
			chromahtml.WrapLongLines(true),
		),
		rendered: cache.NewCache[string, *Rendered](),
		css:      cache.NewCache[string, template.CSS](),
	}
}

func (r *Renderer) Theme() string {
	return r.theme
}

// SyntaxCSS returns the stylesheet for highlighted code blocks.
func (r *Renderer) SyntaxCSS() template.CSS {
	return r.css.GetOrSet(r.theme, func() template.CSS {
		var buf strings.Builder
		style := styles.Get(r.theme)

		bg := style.Get(chroma.Background)
		if !bg.Colour.IsSet() {
			luminance := (0.299*float64(bg.Background.Red()) +
				0.587*float64(bg.Background.Green()) +
				0.114*float64(bg.Background.Blue())) / 255
			if luminance > 0.5 {
				buf.WriteString(".chroma { color: #181818; }\n")
			}
		}

		if err := r.formatter.WriteCSS(&buf, style); err != nil {
			renderLogger.Error().Err(err).Str("theme", r.theme).Msg("Failed to write syntax CSS")
		}
		return template.CSS(buf.String())
	})
}

func (r *Renderer) HighlightCode(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return html.EscapeString(code)
	}

	var buf strings.Builder
	if err := r.formatter.Format(&buf, styles.Get(r.theme), iterator); err != nil {
		return html.EscapeString(code)
	}

	return config.RegexCallout.ReplaceAllString(buf.String(), `<span class="callout">$1</span>`)
}

// Markdown renders md, reusing an earlier result with the same content hash.
// An empty hash skips the cache.
func (r *Renderer) Markdown(md []byte, contentHash string) *Rendered {
	if contentHash == "" {
		return r.render(md)
	}

	return r.rendered.GetOrSet(contentHash, func() *Rendered {
		renderLogger.Debug().Str("content_hash", contentHash).Msg("Rendering markdown")
		return r.render(md)
	})
}

// Forget drops the cached rendering of a content hash.
func (r *Renderer) Forget(contentHash string) {
	r.rendered.Delete(contentHash)
}

// Warm renders md in the background so the first reader hits the cache.
func (r *Renderer) Warm(md []byte, contentHash string) {
	go r.Markdown(md, contentHash)
}

func (r *Renderer) render(md []byte) *Rendered {
	md = markdown.NormalizeNewlines(md)

	// Includes read local files; posts are user content.
	ext := (mparser.Extensions | parser.NoIntraEmphasis) &^ parser.Includes
	p := parser.NewWithExtensions(ext)

	var info *mast.TitleData
	p.Opts = parser.Options{
		ParserHook: func(data []byte) (ast.Node, []byte, int) {
			node, data, consumed := mparser.Hook(data)
			if t, ok := node.(*mast.Title); ok {
				info = t.TitleData
			}
			return node, data, consumed
		},
		ReadIncludeFn: func(string, string, []byte) []byte { return nil },
		Flags:         parser.FlagsNone,
	}

	doc := markdown.Parse(md, p)
	mparser.AddIndex(doc)

	if info == nil {
		info = &mast.TitleData{Title: "Untitled", Language: "en"}
	}

	mhtmlOpts := mhtml.RendererOptions{Language: lang.New(info.Language)}

	opts := mdhtml.RendererOptions{
		Comments: [][]byte{[]byte("//"), []byte("#")},
		RenderNodeHook: func(w io.Writer, node ast.Node, entering bool) (ast.WalkStatus, bool) {
			if code, ok := node.(*ast.CodeBlock); ok && entering {
				highlighted := r.HighlightCode(string(code.Literal), string(code.Info))
				fmt.Fprintf(w, `<div class="highlight">%s</div>`, highlighted)
				return ast.GoToNext, true
			}
			return mhtmlOpts.RenderHook(w, node, entering)
		},
		Flags: mdhtml.CommonFlags | mdhtml.SkipHTML | mdhtml.Safelink | mdhtml.HrefTargetBlank |
			mdhtml.FootnoteNoHRTag | mdhtml.FootnoteReturnLinks,
	}

	out := markdown.Render(doc, mdhtml.NewRenderer(opts))
	return &Rendered{HTML: template.HTML(out), Info: info}
}
