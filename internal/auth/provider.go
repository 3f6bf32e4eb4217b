// Package auth resolves the signed-in user of a request and guards routes that need one.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/debemdeboas/the-library/internal/model"
	"github.com/rs/zerolog"
)

var ErrUnauthenticated = errors.New("authentication required")

var authLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	authLogger = l
}

// Provider attaches an Identity to requests it can authenticate. Requests it
// cannot authenticate pass through unchanged.
type Provider interface {
	Name() string
	Middleware() func(http.Handler) http.Handler
}

// ProfileUpdater changes the profile kept by the identity provider.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, uid model.UserID, displayName string) error
}

// UserStore mirrors identity provider users into the document store.
type UserStore interface {
	Upsert(ctx context.Context, u *model.User) error
	Delete(ctx context.Context, uid model.UserID) error
}

// Chain applies providers in order. A later provider does not replace an
// identity set by an earlier one.
func Chain(providers ...Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := next
		for i := len(providers) - 1; i >= 0; i-- {
			h = skipIfSignedIn(providers[i].Middleware(), h)
		}
		return h
	}
}

func skipIfSignedIn(mw func(http.Handler) http.Handler, next http.Handler) http.Handler {
	wrapped := mw(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()).SignedIn() {
			next.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}

// Anonymous never signs anyone in. It is used when no identity provider is configured.
type Anonymous struct{}

func (Anonymous) Name() string { return "anonymous" }

func (Anonymous) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
