package render

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		contains []string
		excludes []string
	}{
		{
			name:     "basic markdown",
			markdown: "# Test Header\n\nSome content with `code`",
			contains: []string{"Test Header", "<code>code</code>"},
		},
		{
			name:     "code block with syntax highlighting",
			markdown: "```go\nfunc main() {\n    fmt.Println(\"Hello\")\n}\n```",
			contains: []string{`<div class="highlight">`, "chroma"},
		},
		{
			name:     "raw html is dropped",
			markdown: "Content with üñíçødé & <script>alert('xss')</script>",
			contains: []string{"üñíçødé"},
			excludes: []string{"<script>"},
		},
		{
			name:     "javascript links are not linked",
			markdown: "[click](javascript:alert(1))",
			excludes: []string{`href="javascript:`},
		},
		{
			name:     "callouts",
			markdown: "```go\nx := 1 // <<1>>\n```",
			contains: []string{`<span class="callout">1</span>`},
		},
	}

	r := New("monokai")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := string(r.Markdown([]byte(tt.markdown), "").HTML)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestMarkdownFrontMatter(t *testing.T) {
	r := New("github")
	out := r.Markdown([]byte("%%%\ntitle = \"Linear Algebra Notes\"\n%%%\n\n# Vectors\n"), "")

	require.NotNil(t, out.Info)
	assert.Equal(t, "Linear Algebra Notes", out.Info.Title)
	assert.Contains(t, string(out.HTML), "Vectors")

	untitled := r.Markdown([]byte("plain"), "")
	assert.Equal(t, "Untitled", untitled.Info.Title)
}

func TestMarkdownIncludesDisabled(t *testing.T) {
	r := New("github")
	out := r.Markdown([]byte("{{/etc/passwd}}\n"), "")
	assert.NotContains(t, string(out.HTML), "root:")
}

func TestMarkdownCache(t *testing.T) {
	r := New("github")

	first := r.Markdown([]byte("# One"), "hash-1")
	second := r.Markdown([]byte("# Something else"), "hash-1")
	assert.Same(t, first, second, "same hash hits the cache")

	r.Forget("hash-1")
	third := r.Markdown([]byte("# Something else"), "hash-1")
	assert.NotSame(t, first, third)
	assert.Contains(t, string(third.HTML), "Something else")
}

func TestMarkdownCacheConcurrency(t *testing.T) {
	r := New("github")
	md := []byte("# Concurrent\n\n```go\nfunc f() {}\n```")

	results := make([]*Rendered, 20)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Markdown(md, "hash-concurrent")
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.Same(t, results[0], res)
	}
}

func TestSyntaxCSS(t *testing.T) {
	r := New("github")
	css := string(r.SyntaxCSS())
	assert.True(t, strings.Contains(css, ".chroma"), "css: %.80s", css)
	assert.Equal(t, r.SyntaxCSS(), r.SyntaxCSS())
	assert.Equal(t, "github", r.Theme())
}

func TestHighlightCodeUnknownLanguage(t *testing.T) {
	r := New("github")
	out := r.HighlightCode("<b>plain</b>", "no-such-language")
	assert.NotContains(t, out, "<b>")
	assert.Contains(t, out, "plain")
}
