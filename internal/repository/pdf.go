package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
)

type PDFFilter struct {
	Category string
	// Search matches title, author and description, case-insensitively.
	Search string
	Sort   string
	Limit  int
}

type PDFRepository struct {
	store docstore.Store
}

func NewPDFRepository(store docstore.Store) *PDFRepository {
	return &PDFRepository{store: store}
}

// DecodePDF reads a stored PDF document.
func DecodePDF(doc *docstore.Document) (*model.PDF, error) {
	var pdf model.PDF
	if err := doc.DataTo(&pdf); err != nil {
		return nil, err
	}
	pdf.ID = model.PDFID(doc.ID)
	pdf.CreatedAt = doc.CreatedAt
	return &pdf, nil
}

func (r *PDFRepository) List(ctx context.Context, f PDFFilter) ([]*model.PDF, error) {
	q := docstore.Query{Collection: config.CollectionPDFs}
	if f.Category != "" {
		q.Where = append(q.Where, docstore.Filter{Field: "category", Op: docstore.OpEqual, Value: f.Category})
	}

	switch f.Sort {
	case SortTitle:
		q.OrderBy = "title"
	case SortViews:
		q.OrderBy, q.Desc = "views", true
	default:
		q.OrderBy, q.Desc = docstore.FieldCreatedAt, true
	}

	// The text filter runs here, so the limit can only be pushed down without one.
	search := strings.ToLower(strings.TrimSpace(f.Search))
	if search == "" {
		q.Limit = f.Limit
	}

	docs, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pdfs: %w", err)
	}

	pdfs := make([]*model.PDF, 0, len(docs))
	for _, doc := range docs {
		pdf, err := DecodePDF(doc)
		if err != nil {
			return nil, err
		}
		if search != "" && !MatchPDF(pdf, search) {
			continue
		}
		pdfs = append(pdfs, pdf)
		if f.Limit > 0 && len(pdfs) == f.Limit {
			break
		}
	}
	return pdfs, nil
}

// MatchPDF reports whether the lower-cased text occurs in the title, author or description.
func MatchPDF(p *model.PDF, text string) bool {
	for _, s := range []string{p.Title, p.Author, p.Description} {
		if strings.Contains(strings.ToLower(s), text) {
			return true
		}
	}
	return false
}

func (r *PDFRepository) Get(ctx context.Context, id model.PDFID) (*model.PDF, error) {
	doc, err := r.store.Get(ctx, config.CollectionPDFs, string(id))
	if err != nil {
		return nil, err
	}
	return DecodePDF(doc)
}

// Create records an uploaded PDF. Views start at zero.
func (r *PDFRepository) Create(ctx context.Context, pdf *model.PDF) (*model.PDF, error) {
	pdf.Views = 0
	data, err := toData(pdf)
	if err != nil {
		return nil, err
	}

	doc, err := r.store.Create(ctx, config.CollectionPDFs, data)
	if err != nil {
		return nil, fmt.Errorf("create pdf: %w", err)
	}
	return DecodePDF(doc)
}

// Delete removes the record and returns it so the caller can drop the stored file.
func (r *PDFRepository) Delete(ctx context.Context, id model.PDFID, who *model.Identity) (*model.PDF, error) {
	pdf, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canModify(who, pdf.UploaderID) {
		return nil, ErrForbidden
	}
	if err := r.store.Delete(ctx, config.CollectionPDFs, string(id)); err != nil {
		return nil, err
	}
	return pdf, nil
}
