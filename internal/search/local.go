package search

import (
	"context"
	"strings"

	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/util"
)

const snippetLength = 160

type PDFLister interface {
	List(ctx context.Context, f repository.PDFFilter) ([]*model.PDF, error)
}

type PostLister interface {
	List(opts repository.BlogListOptions) []*model.BlogPost
}

// Local answers queries by scanning the repositories.
type Local struct {
	pdfs  PDFLister
	posts PostLister
}

func NewLocal(pdfs PDFLister, posts PostLister) *Local {
	return &Local{pdfs: pdfs, posts: posts}
}

func (l *Local) Search(ctx context.Context, q Query) ([]Result, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, nil
	}

	var results []Result
	if q.Type == "" || q.Type == ResultPDF {
		pdfs, err := l.pdfs.List(ctx, repository.PDFFilter{Search: text, Sort: repository.SortViews})
		if err != nil {
			return nil, err
		}
		for _, p := range pdfs {
			results = append(results, PDFResult(p))
		}
	}

	if q.Type == "" || q.Type == ResultPost {
		for _, p := range l.posts.List(repository.BlogListOptions{Sort: repository.SortPopular}) {
			if matchPost(p, text) {
				results = append(results, PostResult(p))
			}
		}
	}

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func matchPost(p *model.BlogPost, text string) bool {
	if strings.Contains(strings.ToLower(p.GetTitle()), text) || p.HasTag(text) {
		return true
	}
	return strings.Contains(strings.ToLower(string(p.Markdown)), text)
}

func PDFResult(p *model.PDF) Result {
	snippet := p.Description
	if snippet == "" {
		snippet = p.Author
	}
	return Result{
		Type:    ResultPDF,
		ID:      string(p.ID),
		Title:   p.Title,
		Snippet: util.Excerpt(snippet, snippetLength),
		URL:     resultURL(ResultPDF, string(p.ID)),
	}
}

func PostResult(p *model.BlogPost) Result {
	return Result{
		Type:    ResultPost,
		ID:      string(p.ID),
		Title:   p.GetTitle(),
		Snippet: p.Excerpt(snippetLength),
		URL:     resultURL(ResultPost, string(p.ID)),
	}
}

func PDFToRecord(p *model.PDF) PDFRecord {
	return PDFRecord{
		ID:          string(p.ID),
		Title:       p.Title,
		Author:      p.Author,
		Category:    p.Category,
		Description: p.Description,
	}
}

func PostToRecord(p *model.BlogPost) PostRecord {
	return PostRecord{
		ID:         string(p.ID),
		Title:      p.GetTitle(),
		Excerpt:    p.Excerpt(2 * snippetLength),
		Tags:       p.Tags,
		AuthorName: p.AuthorName,
	}
}
