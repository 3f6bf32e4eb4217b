// Package server wires the HTTP routes of the library site.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/debemdeboas/the-library/internal/cache"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/editor"
	"github.com/debemdeboas/the-library/internal/metrics"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/render"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/routes"
	"github.com/debemdeboas/the-library/internal/search"
	"github.com/debemdeboas/the-library/internal/sse"
	"github.com/debemdeboas/the-library/internal/storage"
	"github.com/debemdeboas/the-library/internal/util"
	"github.com/debemdeboas/the-library/internal/views"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Uploader is satisfied by *storage.Uploader.
type Uploader interface {
	UploadPDF(ctx context.Context, filename, contentType string, r io.Reader, size int64) (*storage.Object, error)
	Delete(ctx context.Context, key string) error
}

// Deps are the collaborators of the server. Uploader, Clerk and AdminKey may be nil.
type Deps struct {
	PDFs     *repository.PDFRepository
	Posts    *repository.BlogRepository
	Drafts   *repository.DraftRepository
	Requests *repository.RequestRepository
	Reviews  *repository.ReviewRepository
	Users    *repository.UserRepository

	PDFViews  views.Counter
	PostViews views.Counter

	Uploader Uploader
	Renderer *render.Renderer
	Clients  *sse.Clients
	Search   *search.Service
	Editor   *editor.Manager

	Clerk    *auth.ClerkProvider
	AdminKey *auth.AdminKeyProvider

	// Content holds the templates and static directories.
	Content fs.FS
}

type Server struct {
	cfg *config.Config
	Deps

	log         zerolog.Logger
	tmpl        *templates
	staticHash  *cache.Cache[string, string]
	viewLimiter *RateLimiter
}

func New(cfg *config.Config, deps Deps, log zerolog.Logger) (*Server, error) {
	tmpl, err := parseTemplates(deps.Content)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		Deps:        deps,
		log:         log,
		tmpl:        tmpl,
		staticHash:  cache.NewCache[string, string](),
		viewLimiter: NewRateLimiter(cfg.Views.RatePerMinute, time.Minute),
	}

	if err := s.hashStatic(); err != nil {
		return nil, err
	}
	return s, nil
}

// hashStatic records an ETag for every embedded static file.
func (s *Server) hashStatic() error {
	static, err := fs.Sub(s.Content, config.StaticLocalDir)
	if err != nil {
		return err
	}
	return fs.WalkDir(static, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(static, path)
		if err != nil {
			return err
		}
		s.staticHash.Set(config.StaticUrlPath+path, util.ContentHash(data))
		return nil
	})
}

func (s *Server) providers() []auth.Provider {
	var providers []auth.Provider
	if s.AdminKey != nil {
		providers = append(providers, s.AdminKey)
	}
	if s.Clerk != nil {
		providers = append(providers, s.Clerk)
	}
	if len(providers) == 0 {
		providers = append(providers, auth.Anonymous{})
	}
	return providers
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.log))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, took time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("took", took).
			Msg("Request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(observe)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "HX-Request", "HX-Current-URL", "HX-Target", "HX-Trigger", config.HAdminSignature},
		ExposedHeaders:   []string{config.HHxRedirect, config.HHxTrigger},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	r.Get(routes.RobotsPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(config.HCType, "text/plain")
		w.Write([]byte("User-agent: *\nDisallow:"))
	})
	r.Get(routes.HealthPath, s.serveHealth)
	r.Handle(routes.MetricsPath, metrics.Handler())

	if s.Clerk != nil {
		r.Post(routes.WebhookUser, s.Clerk.HandleWebhookUser)
	}

	r.Group(func(r chi.Router) {
		r.Use(secureHeaders)
		r.Use(s.cacheHeaders)
		r.Use(auth.Chain(s.providers()...))
		r.Use(auth.WithAdmins(s.cfg.IsAdmin))

		static, _ := fs.Sub(s.Content, config.StaticLocalDir)
		r.Handle(config.StaticUrlPath+"*", http.StripPrefix(config.StaticUrlPath, http.FileServer(http.FS(static))))

		r.Get(routes.RootPath, s.serveIndex)
		r.Get(routes.SSEPath, s.Clients.ServeHTTP)
		r.Get(routes.SearchPath, s.serveSearch)

		r.Route(config.PDFsUrlPath, func(r chi.Router) {
			r.Get(routes.RootPath, s.servePDFs)
			r.Get(routes.ItemPath, s.servePDF)
			r.With(s.viewLimiter.Limit).Post(routes.ItemViews, s.servePDFViews)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireUser(s.cfg.Auth.LoginURL))
				r.Post(routes.UploadPDF, s.servePDFUpload)
				r.Delete(routes.ItemPath, s.servePDFDelete)
			})
		})

		r.Route(config.BlogUrlPath, func(r chi.Router) {
			r.Get(routes.RootPath, s.serveBlog)
			r.Get(routes.ItemPath, s.servePost)
			r.With(s.viewLimiter.Limit).Post(routes.ItemViews, s.servePostViews)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireUser(s.cfg.Auth.LoginURL))
				r.Post(routes.PostLike, s.serveLike)
				r.Post(routes.PostComments, s.serveAddComment)
				r.Delete(routes.PostComment, s.serveDeleteComment)
				r.Delete(routes.ItemPath, s.servePostDelete)
			})
		})

		r.Route(config.EditorUrlPath, func(r chi.Router) {
			r.Use(auth.RequireUser(s.cfg.Auth.LoginURL))
			r.Get(routes.EditorNew, s.serveEditorNew)
			r.Get(routes.EditorPost, s.serveEditorPost)
			r.Get(routes.EditorDraft, s.serveEditorDraft)
			r.Post(routes.EditorPreview, s.servePreview)
			r.Post(routes.EditorEdit, s.serveEditorEdit)
			r.Post(routes.EditorPublish, s.serveEditorPublish)
			r.Delete(routes.EditorSession, s.serveEditorDiscard)
		})
		r.With(auth.RequireUser(s.cfg.Auth.LoginURL)).Delete(routes.DraftDelete, s.serveDraftDelete)

		r.Post(routes.RequestPDF, s.servePDFRequest)
		r.Post(routes.RequestCopyright, s.serveCopyrightRequest)
		r.Get(routes.Reviews, s.serveReviews)
		r.Post(routes.Reviews, s.serveAddReview)

		r.Route(routes.AdminPrefix, func(r chi.Router) {
			r.Use(auth.RequireAdmin(s.cfg.Auth.LoginURL))
			r.Get(routes.AdminRequests, s.serveRequests)
			r.Post(routes.AdminResolve, s.serveResolveRequest)
		})

		r.Get(s.cfg.Auth.LoginURL, s.serveLogin)
		r.Post(routes.AuthLogout, s.serveLogout)
		if s.AdminKey != nil {
			r.Get(routes.AuthChallenge, s.AdminKey.ChallengeHandler)
			r.Post(routes.AuthChallenge, s.AdminKey.ChallengeHandler)
			r.Post(routes.AuthVerify, s.AdminKey.VerifyHandler)
		}
		r.With(auth.RequireUser(s.cfg.Auth.LoginURL)).Post(routes.Profile, s.serveProfile)
	})

	return r
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	s.log.Info().Msg("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) pageData(r *http.Request, title string) *model.PageData {
	pd := model.NewPageData(r, s.cfg.Site, auth.IdentityFrom(r.Context()))
	pd.Title = title
	return pd
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pdfs, err := s.PDFs.List(ctx, repository.PDFFilter{Sort: repository.SortViews, Limit: 6})
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	avg, count, err := s.Reviews.Average(ctx)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to compute review average")
	}

	data := struct {
		*model.PageData
		PDFs        []*model.PDF
		Posts       []*model.BlogPost
		Rating      float64
		ReviewCount int
	}{
		PageData:    s.pageData(r, ""),
		PDFs:        pdfs,
		Posts:       s.Posts.List(repository.BlogListOptions{Sort: repository.SortNewest, Limit: 5}),
		Rating:      avg,
		ReviewCount: count,
	}
	s.page(w, r, http.StatusOK, config.TemplateIndex, data)
}

func (s *Server) serveSearch(w http.ResponseWriter, r *http.Request) {
	q := search.Query{
		Text:  r.URL.Query().Get("q"),
		Type:  search.ResultType(r.URL.Query().Get("type")),
		Limit: s.cfg.Search.MaxResult,
	}
	resp := s.Search.Search(r.Context(), q)

	if r.Header.Get("Accept") == config.CTypeJSON {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.partial(w, r, http.StatusOK, "search-results", resp)
}
