package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/validate"
)

// safeRedirect keeps redirects on this site.
func safeRedirect(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(target, "//") {
		return "/"
	}
	return u.RequestURI()
}

func (s *Server) serveLogin(w http.ResponseWriter, r *http.Request) {
	target := safeRedirect(r.URL.Query().Get("redirect"))
	if auth.IdentityFrom(r.Context()).SignedIn() {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	data := struct {
		*model.PageData
		ClerkPublishableKey string
		Redirect            string
		AdminLogin          bool
	}{
		PageData:            s.pageData(r, "Sign in"),
		ClerkPublishableKey: s.cfg.Auth.ClerkPublishableKey,
		Redirect:            target,
		AdminLogin:          s.AdminKey != nil,
	}
	s.page(w, r, http.StatusOK, config.TemplateLogin, data)
}

func (s *Server) serveLogout(w http.ResponseWriter, r *http.Request) {
	if s.Clerk != nil {
		s.Clerk.SignOut(w, r)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     config.CookieAdminToken,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	redirect(w, r, "/")
}

// serveProfile changes the display name at the identity provider and the
// photo in the users collection.
func (s *Server) serveProfile(w http.ResponseWriter, r *http.Request) {
	values := form(r, "displayName", "photoURL")
	if err := validate.Profile.Validate(values); err != nil {
		s.invalid(w, r, err.(validate.Errors))
		return
	}

	ctx := r.Context()
	who := auth.IdentityFrom(ctx)

	var updater auth.ProfileUpdater
	if s.Clerk != nil && who.UID != auth.AdminUserID {
		updater = s.Clerk
	}
	if updater != nil {
		if err := updater.UpdateProfile(ctx, who.UID, values["displayName"]); err != nil {
			s.serverError(w, r, err)
			return
		}
	} else if err := s.Users.Upsert(ctx, &model.User{ID: who.UID, DisplayName: values["displayName"]}); err != nil {
		s.serverError(w, r, err)
		return
	}

	if err := s.Users.SetPhoto(ctx, who.UID, values["photoURL"]); err != nil {
		s.serverError(w, r, err)
		return
	}

	toast(w, "info", "Profile saved")
	w.WriteHeader(http.StatusNoContent)
}
