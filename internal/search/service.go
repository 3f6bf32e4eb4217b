package search

import (
	"context"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/repository"
)

// Service tries the backend first and falls back to scanning the repositories.
type Service struct {
	backend Backend
	local   *Local
}

// NewService creates a search service. backend may be nil when Meilisearch is not configured.
func NewService(backend Backend, local *Local) *Service {
	return &Service{backend: backend, local: local}
}

func (s *Service) available() bool {
	return s.backend != nil && s.backend.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.available() {
		results, total, err := s.backend.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		searchLogger.Warn().Err(err).Msg("Search backend failed, falling back to local search")
	}

	results, err := s.local.Search(ctx, q)
	if err != nil {
		searchLogger.Error().Err(err).Msg("Local search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: len(results), Query: q.Text}
}

// ReindexAll pushes every PDF and post into the backend.
func (s *Service) ReindexAll(ctx context.Context) error {
	if !s.available() {
		return nil
	}

	pdfs, err := s.local.pdfs.List(ctx, repository.PDFFilter{})
	if err != nil {
		return err
	}
	pdfRecords := make([]PDFRecord, 0, len(pdfs))
	for _, p := range pdfs {
		pdfRecords = append(pdfRecords, PDFToRecord(p))
	}
	if err := s.backend.IndexPDFs(pdfRecords); err != nil {
		return err
	}

	posts := s.local.posts.List(repository.BlogListOptions{})
	postRecords := make([]PostRecord, 0, len(posts))
	for _, p := range posts {
		postRecords = append(postRecords, PostToRecord(p))
	}
	return s.backend.IndexPosts(postRecords)
}

// Follow keeps the backend in sync with the pdfs and blogPosts collections until ctx is done.
func (s *Service) Follow(ctx context.Context, store docstore.Store) {
	if s.backend == nil {
		return
	}
	go s.follow(ctx, store.Subscribe(ctx, config.CollectionPDFs), ResultPDF)
	go s.follow(ctx, store.Subscribe(ctx, config.CollectionBlogPosts), ResultPost)
}

func (s *Service) follow(ctx context.Context, changes <-chan docstore.Change, t ResultType) {
	for change := range changes {
		if !s.available() {
			continue
		}
		if change.Kind == docstore.ChangeResync {
			if err := s.ReindexAll(ctx); err != nil {
				searchLogger.Warn().Err(err).Str("type", string(t)).Msg("Failed to reindex after dropped changes")
			}
			continue
		}
		if err := s.applyChange(change, t); err != nil {
			searchLogger.Warn().Err(err).Str("type", string(t)).Str("id", change.Document.ID).Msg("Failed to update search index")
		}
	}
}

func (s *Service) applyChange(change docstore.Change, t ResultType) error {
	if change.Kind == docstore.ChangeDeleted {
		return s.backend.Delete(t, change.Document.ID)
	}

	switch t {
	case ResultPDF:
		p, err := repository.DecodePDF(change.Document)
		if err != nil {
			return err
		}
		return s.backend.IndexPDFs([]PDFRecord{PDFToRecord(p)})
	default:
		p, err := repository.DecodePost(change.Document)
		if err != nil {
			return err
		}
		return s.backend.IndexPosts([]PostRecord{PostToRecord(p)})
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
