package auth

import (
	"context"
	"net/http"
	"net/url"

	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/rs/zerolog/hlog"
)

type contextKey string

const contextKeyIdentity contextKey = "identity"

func WithIdentity(ctx context.Context, id *model.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// IdentityFrom returns the signed-in user, or nil.
func IdentityFrom(ctx context.Context) *model.Identity {
	id, _ := ctx.Value(contextKeyIdentity).(*model.Identity)
	return id
}

func UserIDFrom(ctx context.Context) (model.UserID, error) {
	id := IdentityFrom(ctx)
	if !id.SignedIn() {
		return "", ErrUnauthenticated
	}
	return id.UID, nil
}

// LoginRedirect sends the client to the login page, coming back to the current URL afterwards.
// htmx requests get a 401 with HX-Redirect so the whole page navigates.
func LoginRedirect(w http.ResponseWriter, r *http.Request, loginURL string) {
	back := r.URL.RequestURI()
	if r.Header.Get(config.HHxRequest) != "" {
		if cur := r.Header.Get("HX-Current-URL"); cur != "" {
			if u, err := url.Parse(cur); err == nil {
				back = u.RequestURI()
			}
		}
	}
	target := loginURL + "?redirect=" + url.QueryEscape(back)

	if r.Header.Get(config.HHxRequest) == "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.Header().Set(config.HHxRedirect, target)
	http.Error(w, config.ErrLoginRequired, http.StatusUnauthorized)
}

// RequireUser rejects requests without a signed-in user.
func RequireUser(loginURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IdentityFrom(r.Context()).SignedIn() {
				hlog.FromRequest(r).Debug().Str("path", r.URL.Path).Msg("Login required")
				LoginRedirect(w, r, loginURL)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects requests from anyone but an admin with 403.
func RequireAdmin(loginURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireUser(loginURL)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IdentityFrom(r.Context()).Admin {
				http.Error(w, config.HTTPErrForbidden, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// WithAdmins marks signed-in users for whom isAdmin reports true as admins.
func WithAdmins(isAdmin func(uid string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := IdentityFrom(r.Context()); id.SignedIn() && !id.Admin && isAdmin(string(id.UID)) {
				elevated := *id
				elevated.Admin = true
				r = r.WithContext(WithIdentity(r.Context(), &elevated))
			}
			next.ServeHTTP(w, r)
		})
	}
}
