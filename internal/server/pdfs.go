package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/storage"
	"github.com/debemdeboas/the-library/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

func (s *Server) servePDFs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.PDFFilter{
		Category: q.Get("category"),
		Search:   q.Get("q"),
		Sort:     q.Get("sort"),
	}
	if filter.Sort == "" {
		filter.Sort = repository.SortNewest
	}

	pdfs, err := s.PDFs.List(r.Context(), filter)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	data := struct {
		*model.PageData
		Filter     repository.PDFFilter
		Categories []string
		PDFs       []*model.PDF
	}{
		PageData:   s.pageData(r, "Library"),
		Filter:     filter,
		Categories: validate.Categories,
		PDFs:       pdfs,
	}
	s.page(w, r, http.StatusOK, config.TemplatePDFs, data)
}

func (s *Server) servePDF(w http.ResponseWriter, r *http.Request) {
	pdf, err := s.PDFs.Get(r.Context(), model.PDFID(chi.URLParam(r, "id")))
	if errors.Is(err, repository.ErrNotFound) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		s.serverError(w, r, err)
		return
	}

	who := auth.IdentityFrom(r.Context())
	data := struct {
		*model.PageData
		PDF       *model.PDF
		CanDelete bool
	}{
		PageData:  s.pageData(r, pdf.Title),
		PDF:       pdf,
		CanDelete: who.SignedIn() && (who.UID == pdf.UploaderID || who.Admin),
	}
	s.page(w, r, http.StatusOK, config.TemplatePDF, data)
}

// servePDFViews counts a view of an existing PDF. Counting failures are logged
// and never reach the reader.
func (s *Server) servePDFViews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.PDFs.Get(r.Context(), model.PDFID(id)); s.repoError(w, r, err) {
		return
	}
	if err := s.PDFViews.IncrementView(r.Context(), id); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("pdf_id", id).Msg("Failed to count view")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) servePDFUpload(w http.ResponseWriter, r *http.Request) {
	if s.Uploader == nil {
		toast(w, "error", config.ErrUploadFailed)
		http.Error(w, "Uploads are not configured", http.StatusServiceUnavailable)
		return
	}

	maxBytes := int64(s.cfg.Storage.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			toast(w, "error", config.ErrFileTooLarge)
			http.Error(w, config.ErrFileTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	values := map[string]string{
		"title":       r.FormValue("title"),
		"author":      r.FormValue("author"),
		"category":    r.FormValue("category"),
		"description": r.FormValue("description"),
	}
	if err := validate.PDFUpload.Validate(values); err != nil {
		s.invalid(w, r, err.(validate.Errors))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.invalid(w, r, validate.Errors{"file": config.ErrFileRequired})
		return
	}
	defer file.Close()

	log := hlog.FromRequest(r)
	obj, err := s.Uploader.UploadPDF(r.Context(), header.Filename, header.Header.Get(config.HCType), file, header.Size)
	switch {
	case errors.Is(err, storage.ErrNotPDF):
		s.invalid(w, r, validate.Errors{"file": config.ErrOnlyPDF})
		return
	case errors.Is(err, storage.ErrTooLarge):
		toast(w, "error", config.ErrFileTooLarge)
		http.Error(w, config.ErrFileTooLarge, http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		log.Error().Err(err).Str("filename", header.Filename).Msg("Upload failed")
		toast(w, "error", config.ErrUploadFailed)
		http.Error(w, config.ErrUploadFailed, http.StatusBadGateway)
		return
	}

	who := auth.IdentityFrom(r.Context())
	pdf, err := s.PDFs.Create(r.Context(), &model.PDF{
		Title:       strings.TrimSpace(values["title"]),
		Author:      strings.TrimSpace(values["author"]),
		Category:    values["category"],
		Description: strings.TrimSpace(values["description"]),
		URL:         obj.URL,
		StorageKey:  obj.Key,
		Size:        obj.Size,
		UploaderID:  who.UID,
	})
	if err != nil {
		if derr := s.Uploader.Delete(r.Context(), obj.Key); derr != nil {
			log.Warn().Err(derr).Str("key", obj.Key).Msg("Failed to remove orphaned upload")
		}
		s.serverError(w, r, err)
		return
	}

	log.Info().Str("pdf_id", string(pdf.ID)).Int64("size", pdf.Size).Msg("PDF uploaded")
	redirect(w, r, config.PDFsUrlPath+"/"+string(pdf.ID))
}

func (s *Server) servePDFDelete(w http.ResponseWriter, r *http.Request) {
	pdf, err := s.PDFs.Delete(r.Context(), model.PDFID(chi.URLParam(r, "id")), auth.IdentityFrom(r.Context()))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, repository.ErrForbidden):
		toast(w, "error", config.ErrForbiddenAction)
		http.Error(w, config.HTTPErrForbidden, http.StatusForbidden)
		return
	case err != nil:
		s.serverError(w, r, err)
		return
	}

	if s.Uploader != nil && pdf.StorageKey != "" {
		if err := s.Uploader.Delete(r.Context(), pdf.StorageKey); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("key", pdf.StorageKey).Msg("Failed to delete stored PDF")
		}
	}
	redirect(w, r, config.PDFsUrlPath)
}
