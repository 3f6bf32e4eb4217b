package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/validate"
	"github.com/rs/zerolog/hlog"
)

const templatePartials = "partials.html"

// Pages and the extra template files each one needs besides the layout.
var pages = map[string][]string{
	config.TemplateIndex:    nil,
	config.TemplatePDFs:     nil,
	config.TemplatePDF:      nil,
	config.TemplateBlog:     nil,
	config.TemplatePost:     {config.TemplateComments},
	config.TemplateEditor:   nil,
	config.TemplateLogin:    nil,
	config.TemplateReviews:  nil,
	config.TemplateRequests: nil,
}

var funcs = template.FuncMap{
	// highlight escapes s but keeps the <mark> tags of search highlighting.
	"highlight": func(s string) template.HTML {
		s = html.EscapeString(s)
		s = strings.ReplaceAll(s, "&lt;mark&gt;", "<mark>")
		s = strings.ReplaceAll(s, "&lt;/mark&gt;", "</mark>")
		return template.HTML(s)
	},
}

type templates struct {
	pages    map[string]*template.Template
	partials *template.Template
}

func parseTemplates(content fs.FS) (*templates, error) {
	dir := func(name string) string { return config.TemplatesLocalDir + "/" + name }

	t := &templates{pages: make(map[string]*template.Template, len(pages))}
	for page, extra := range pages {
		files := []string{dir(config.TemplateLayout), dir(page), dir(templatePartials)}
		for _, e := range extra {
			files = append(files, dir(e))
		}
		tmpl, err := template.New(config.TemplateLayout).Funcs(funcs).ParseFS(content, files...)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		t.pages[page] = tmpl
	}

	partials, err := template.New(templatePartials).Funcs(funcs).ParseFS(content,
		dir(templatePartials), dir(config.TemplateComments))
	if err != nil {
		return nil, fmt.Errorf("parse partials: %w", err)
	}
	t.partials = partials
	return t, nil
}

// page renders a full page through the layout.
func (s *Server) page(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	tmpl, ok := s.tmpl.pages[name]
	if !ok {
		s.serverError(w, r, fmt.Errorf("unknown page %q", name))
		return
	}
	s.execute(w, r, status, tmpl, config.TemplateLayout, data)
}

// partial renders one named template, for htmx swaps.
func (s *Server) partial(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	s.execute(w, r, status, s.tmpl.partials, name, data)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, status int, tmpl *template.Template, name string, data any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.serverError(w, r, fmt.Errorf("execute %s: %w", name, err))
		return
	}
	w.Header().Set(config.HCType, config.CTypeHTML)
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get(config.HHxRequest) != ""
}

// toast asks the page to show a one-shot message.
func toast(w http.ResponseWriter, level, message string) {
	payload, _ := json.Marshal(map[string]any{
		"toast": map[string]string{"level": level, "message": message},
	})
	w.Header().Set(config.HHxTrigger, string(payload))
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	toast(w, "error", config.ErrInternalServerError)
	http.Error(w, config.ErrInternalServerError, http.StatusInternalServerError)
}

// invalid answers 422 with the field messages of a failed form.
func (s *Server) invalid(w http.ResponseWriter, r *http.Request, errs validate.Errors) {
	s.partial(w, r, http.StatusUnprocessableEntity, "field-errors", errs)
}

// redirect navigates the browser, through HX-Redirect for htmx requests.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if isHTMX(r) {
		w.Header().Set(config.HHxRedirect, target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(config.HCType, config.CTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
