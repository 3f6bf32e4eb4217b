// Package search finds PDFs and blog posts by text, through Meilisearch when it
// is reachable and by scanning the repositories otherwise.
package search

import (
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/rs/zerolog"
)

var searchLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	searchLogger = l
}

type ResultType string

const (
	ResultPDF  ResultType = "pdf"
	ResultPost ResultType = "post"
)

type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	URL     string     `json:"url"`
}

type Query struct {
	Text string
	// Type restricts results to one kind; empty means both.
	Type  ResultType
	Limit int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PDFRecord is what gets indexed for a PDF.
type PDFRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// PostRecord is what gets indexed for a blog post.
type PostRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Excerpt    string   `json:"excerpt"`
	Tags       []string `json:"tags"`
	AuthorName string   `json:"authorName"`
}

// Backend is a search index that can be written to.
type Backend interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
	IndexPDFs(records []PDFRecord) error
	IndexPosts(records []PostRecord) error
	Delete(t ResultType, id string) error
}

func resultURL(t ResultType, id string) string {
	if t == ResultPDF {
		return config.PDFsUrlPath + "/" + id
	}
	return config.BlogUrlPath + "/" + id
}
