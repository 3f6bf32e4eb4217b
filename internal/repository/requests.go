package repository

import (
	"context"
	"fmt"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/model"
)

// RequestRepository stores PDF requests and copyright takedown requests.
type RequestRepository struct {
	store docstore.Store
}

func NewRequestRepository(store docstore.Store) *RequestRepository {
	return &RequestRepository{store: store}
}

func (r *RequestRepository) SubmitPDFRequest(ctx context.Context, req *model.PDFRequest) (string, error) {
	req.Status = model.RequestOpen
	data, err := toData(req)
	if err != nil {
		return "", err
	}
	doc, err := r.store.Create(ctx, config.CollectionPDFRequests, data)
	if err != nil {
		return "", fmt.Errorf("submit pdf request: %w", err)
	}
	repoLogger.Info().Str("request_id", doc.ID).Str("title", req.Title).Msg("PDF requested")
	return doc.ID, nil
}

func (r *RequestRepository) SubmitCopyrightRequest(ctx context.Context, req *model.CopyrightRequest) (string, error) {
	req.Status = model.RequestOpen
	data, err := toData(req)
	if err != nil {
		return "", err
	}
	doc, err := r.store.Create(ctx, config.CollectionCopyrightRequests, data)
	if err != nil {
		return "", fmt.Errorf("submit copyright request: %w", err)
	}
	repoLogger.Info().Str("request_id", doc.ID).Str("pdf_id", string(req.PDFID)).Msg("Copyright request filed")
	return doc.ID, nil
}

func statusQuery(collection string, status model.RequestStatus) docstore.Query {
	q := docstore.Query{Collection: collection, OrderBy: docstore.FieldCreatedAt, Desc: true}
	if status != "" {
		q.Where = []docstore.Filter{{Field: "status", Op: docstore.OpEqual, Value: string(status)}}
	}
	return q
}

// ListPDFRequests returns requests with the given status, or all when status is empty, newest first.
func (r *RequestRepository) ListPDFRequests(ctx context.Context, status model.RequestStatus) ([]*model.PDFRequest, error) {
	docs, err := r.store.Query(ctx, statusQuery(config.CollectionPDFRequests, status))
	if err != nil {
		return nil, err
	}
	out := make([]*model.PDFRequest, 0, len(docs))
	for _, doc := range docs {
		var req model.PDFRequest
		if err := doc.DataTo(&req); err != nil {
			return nil, err
		}
		req.ID, req.CreatedAt = doc.ID, doc.CreatedAt
		out = append(out, &req)
	}
	return out, nil
}

func (r *RequestRepository) ListCopyrightRequests(ctx context.Context, status model.RequestStatus) ([]*model.CopyrightRequest, error) {
	docs, err := r.store.Query(ctx, statusQuery(config.CollectionCopyrightRequests, status))
	if err != nil {
		return nil, err
	}
	out := make([]*model.CopyrightRequest, 0, len(docs))
	for _, doc := range docs {
		var req model.CopyrightRequest
		if err := doc.DataTo(&req); err != nil {
			return nil, err
		}
		req.ID, req.CreatedAt = doc.ID, doc.CreatedAt
		out = append(out, &req)
	}
	return out, nil
}

// Resolve marks a request of either kind as handled. Only admins may do so.
func (r *RequestRepository) Resolve(ctx context.Context, collection, id string, who *model.Identity) error {
	if !who.SignedIn() || !who.Admin {
		return ErrForbidden
	}
	switch collection {
	case config.CollectionPDFRequests, config.CollectionCopyrightRequests:
	default:
		return fmt.Errorf("resolve: unknown request collection %q", collection)
	}
	_, err := r.store.Update(ctx, collection, id, map[string]any{"status": string(model.RequestResolved)})
	return err
}

type ReviewRepository struct {
	store docstore.Store
}

func NewReviewRepository(store docstore.Store) *ReviewRepository {
	return &ReviewRepository{store: store}
}

func (r *ReviewRepository) Add(ctx context.Context, review *model.Review) (*model.Review, error) {
	data, err := toData(review)
	if err != nil {
		return nil, err
	}
	doc, err := r.store.Create(ctx, config.CollectionReviews, data)
	if err != nil {
		return nil, fmt.Errorf("add review: %w", err)
	}
	review.ID, review.CreatedAt = doc.ID, doc.CreatedAt
	return review, nil
}

// List returns the newest reviews first. limit <= 0 returns all.
func (r *ReviewRepository) List(ctx context.Context, limit int) ([]*model.Review, error) {
	docs, err := r.store.Query(ctx, docstore.Query{
		Collection: config.CollectionReviews,
		OrderBy:    docstore.FieldCreatedAt,
		Desc:       true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Review, 0, len(docs))
	for _, doc := range docs {
		var rv model.Review
		if err := doc.DataTo(&rv); err != nil {
			return nil, err
		}
		rv.ID, rv.CreatedAt = doc.ID, doc.CreatedAt
		out = append(out, &rv)
	}
	return out, nil
}

// Average returns the mean rating over all reviews and how many there are.
func (r *ReviewRepository) Average(ctx context.Context) (float64, int, error) {
	reviews, err := r.List(ctx, 0)
	if err != nil {
		return 0, 0, err
	}
	if len(reviews) == 0 {
		return 0, 0, nil
	}
	sum := 0
	for _, rv := range reviews {
		sum += rv.Rating
	}
	return float64(sum) / float64(len(reviews)), len(reviews), nil
}
