package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

const reviewsPageSize = 50

// form reads the named fields, trimmed.
func form(r *http.Request, fields ...string) map[string]string {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f] = strings.TrimSpace(r.FormValue(f))
	}
	return values
}

func (s *Server) servePDFRequest(w http.ResponseWriter, r *http.Request) {
	values := form(r, "title", "author", "email", "notes")
	if err := validate.PDFRequest.Validate(values); err != nil {
		s.invalid(w, r, err.(validate.Errors))
		return
	}

	req := &model.PDFRequest{
		Title:  values["title"],
		Author: values["author"],
		Email:  values["email"],
		Notes:  values["notes"],
	}
	if who := auth.IdentityFrom(r.Context()); who.SignedIn() {
		req.UserID = who.UID
	}

	if _, err := s.Requests.SubmitPDFRequest(r.Context(), req); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.partial(w, r, http.StatusCreated, "thanks", "Thanks! We will look for it.")
}

func (s *Server) serveCopyrightRequest(w http.ResponseWriter, r *http.Request) {
	values := form(r, "name", "email", "pdfId", "description")
	if err := validate.CopyrightRequest.Validate(values); err != nil {
		s.invalid(w, r, err.(validate.Errors))
		return
	}

	_, err := s.Requests.SubmitCopyrightRequest(r.Context(), &model.CopyrightRequest{
		Name:        values["name"],
		Email:       values["email"],
		PDFID:       model.PDFID(values["pdfId"]),
		Description: values["description"],
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.partial(w, r, http.StatusCreated, "thanks", "Thanks, your report was received.")
}

func (s *Server) serveReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.Reviews.List(r.Context(), reviewsPageSize)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	avg, count, err := s.Reviews.Average(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	data := struct {
		*model.PageData
		Reviews []*model.Review
		Average float64
		Count   int
	}{
		PageData: s.pageData(r, "Reviews"),
		Reviews:  reviews,
		Average:  avg,
		Count:    count,
	}
	s.page(w, r, http.StatusOK, config.TemplateReviews, data)
}

func (s *Server) serveAddReview(w http.ResponseWriter, r *http.Request) {
	values := form(r, "name", "rating", "comment")
	if err := validate.Review.Validate(values); err != nil {
		s.invalid(w, r, err.(validate.Errors))
		return
	}
	rating, _ := strconv.Atoi(values["rating"])

	review := &model.Review{Name: values["name"], Rating: rating, Comment: values["comment"]}
	if who := auth.IdentityFrom(r.Context()); who.SignedIn() {
		review.UserID = who.UID
	}

	review, err := s.Reviews.Add(r.Context(), review)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.partial(w, r, http.StatusCreated, "review", review)
}

func (s *Server) serveRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pdfRequests, err := s.Requests.ListPDFRequests(ctx, model.RequestOpen)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	copyrightRequests, err := s.Requests.ListCopyrightRequests(ctx, model.RequestOpen)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	data := struct {
		*model.PageData
		PDFRequests       []*model.PDFRequest
		CopyrightRequests []*model.CopyrightRequest
	}{
		PageData:          s.pageData(r, "Requests"),
		PDFRequests:       pdfRequests,
		CopyrightRequests: copyrightRequests,
	}
	s.page(w, r, http.StatusOK, config.TemplateRequests, data)
}

func (s *Server) serveResolveRequest(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")
	switch collection {
	case config.CollectionPDFRequests, config.CollectionCopyrightRequests:
	default:
		http.NotFound(w, r)
		return
	}

	if s.repoError(w, r, s.Requests.Resolve(r.Context(), collection, id, auth.IdentityFrom(r.Context()))) {
		return
	}
	hlog.FromRequest(r).Info().Str("collection", collection).Str("request_id", id).Msg("Request resolved")
	w.WriteHeader(http.StatusOK)
}
