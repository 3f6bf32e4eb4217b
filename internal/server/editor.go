package server

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/debemdeboas/the-library/internal/autosave"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/editor"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/validate"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

const previewPlaceholder = "Start typing in the editor to see a preview here."

func (s *Server) editorError(w http.ResponseWriter, r *http.Request, err error) {
	var verr validate.Errors
	switch {
	case errors.As(err, &verr):
		s.invalid(w, r, verr)
	case errors.Is(err, editor.ErrSessionNotFound):
		toast(w, "error", "This editor was closed, please reopen it")
		http.Error(w, config.HTTPErrNotFound, http.StatusNotFound)
	case errors.Is(err, editor.ErrForbidden):
		toast(w, "error", config.ErrForbiddenAction)
		http.Error(w, config.HTTPErrForbidden, http.StatusForbidden)
	default:
		s.repoError(w, r, err)
	}
}

func (s *Server) openEditor(w http.ResponseWriter, r *http.Request, kind editor.Kind, key string) {
	who := auth.IdentityFrom(r.Context())
	session, err := s.Editor.Open(r.Context(), who, kind, key)
	if err != nil {
		s.editorError(w, r, err)
		return
	}

	drafts, err := s.Drafts.ListByOwner(r.Context(), who.UID)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to list drafts")
	}

	values := session.Values()
	if values == nil {
		values = autosave.Values{}
	}

	data := struct {
		*model.PageData
		SessionID string
		Kind      editor.Kind
		Values    autosave.Values
		Status    template.HTML
		Drafts    []*model.Draft
	}{
		PageData:  s.pageData(r, "Editor"),
		SessionID: session.ID,
		Kind:      kind,
		Values:    values,
		Status:    template.HTML(editor.StatusFragment(autosave.Event{Status: session.Status(), Key: session.Key()})),
		Drafts:    drafts,
	}
	s.page(w, r, http.StatusOK, config.TemplateEditor, data)
}

func (s *Server) serveEditorNew(w http.ResponseWriter, r *http.Request) {
	kind := editor.Kind(r.URL.Query().Get("kind"))
	switch kind {
	case "":
		kind = editor.KindPost
	case editor.KindPost, editor.KindDraft:
	default:
		http.Error(w, "unknown editor kind", http.StatusBadRequest)
		return
	}
	s.openEditor(w, r, kind, "")
}

func (s *Server) serveEditorPost(w http.ResponseWriter, r *http.Request) {
	s.openEditor(w, r, editor.KindPost, chi.URLParam(r, "id"))
}

func (s *Server) serveEditorDraft(w http.ResponseWriter, r *http.Request) {
	s.openEditor(w, r, editor.KindDraft, chi.URLParam(r, "id"))
}

func formValues(r *http.Request) autosave.Values {
	v := autosave.Values{
		"title": r.FormValue("title"),
		"body":  r.FormValue("body"),
	}
	if tags, ok := r.Form["tags"]; ok && len(tags) > 0 {
		v["tags"] = tags[0]
	}
	return v
}

func (s *Server) serveEditorEdit(w http.ResponseWriter, r *http.Request) {
	who := auth.IdentityFrom(r.Context())
	status, err := s.Editor.Edit(chi.URLParam(r, "session"), who, formValues(r))
	if err != nil {
		s.editorError(w, r, err)
		return
	}

	w.Header().Set(config.HCType, config.CTypeHTML)
	w.Write([]byte(editor.StatusFragment(autosave.Event{Status: status})))
}

func (s *Server) serveEditorPublish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	who := auth.IdentityFrom(r.Context())

	if r.FormValue("title") != "" || r.FormValue("body") != "" {
		if _, err := s.Editor.Edit(id, who, formValues(r)); err != nil {
			s.editorError(w, r, err)
			return
		}
	}

	postID, err := s.Editor.Publish(r.Context(), id, who)
	if err != nil {
		s.editorError(w, r, err)
		return
	}
	redirect(w, r, config.BlogUrlPath+"/"+string(postID))
}

func (s *Server) serveEditorDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.Editor.Discard(chi.URLParam(r, "session"), auth.IdentityFrom(r.Context())); err != nil {
		s.editorError(w, r, err)
		return
	}
	redirect(w, r, config.BlogUrlPath)
}

func (s *Server) servePreview(w http.ResponseWriter, r *http.Request) {
	content := r.FormValue("body")
	if content == "" {
		content = previewPlaceholder
	}

	rendered := s.Renderer.Markdown([]byte(content), "")
	w.Header().Set(config.HCType, config.CTypeHTML)
	w.Write([]byte(rendered.HTML))
}

func (s *Server) serveDraftDelete(w http.ResponseWriter, r *http.Request) {
	err := s.Drafts.Delete(r.Context(), chi.URLParam(r, "id"), auth.IdentityFrom(r.Context()))
	if s.repoError(w, r, err) {
		return
	}
	w.WriteHeader(http.StatusOK)
}
