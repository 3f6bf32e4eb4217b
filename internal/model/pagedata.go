package model

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/debemdeboas/the-library/internal/config"
)

type PageData struct {
	SiteName    string
	Description string
	Tagline     string

	PageURL string
	Title   string

	User *Identity

	SyntaxCSS template.CSS
}

func NewPageData(r *http.Request, site config.SiteConfig, user *Identity) *PageData {
	return &PageData{
		SiteName:    site.Name,
		Description: site.Description,
		Tagline:     site.Tagline,
		PageURL:     r.URL.Path,
		User:        user,
	}
}

// Section names the top navigation entry the page belongs to.
func (pd *PageData) Section() string {
	switch {
	case strings.HasPrefix(pd.PageURL, config.PDFsUrlPath):
		return "pdfs"
	case strings.HasPrefix(pd.PageURL, config.BlogUrlPath), strings.HasPrefix(pd.PageURL, config.EditorUrlPath):
		return "blog"
	case strings.HasPrefix(pd.PageURL, "/reviews"):
		return "reviews"
	}
	return "home"
}

func (pd *PageData) SignedIn() bool {
	return pd.User.SignedIn()
}
