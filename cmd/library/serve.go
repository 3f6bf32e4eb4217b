package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/debemdeboas/the-library/internal/auth"
	"github.com/debemdeboas/the-library/internal/config"
	"github.com/debemdeboas/the-library/internal/docstore"
	"github.com/debemdeboas/the-library/internal/editor"
	"github.com/debemdeboas/the-library/internal/model"
	"github.com/debemdeboas/the-library/internal/render"
	"github.com/debemdeboas/the-library/internal/repository"
	"github.com/debemdeboas/the-library/internal/search"
	"github.com/debemdeboas/the-library/internal/server"
	"github.com/debemdeboas/the-library/internal/sse"
	"github.com/debemdeboas/the-library/internal/storage"
	"github.com/debemdeboas/the-library/internal/views"
	"github.com/debemdeboas/the-library/web"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	editorSweepInterval = time.Minute
	editorMaxIdle       = 30 * time.Minute
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(parent context.Context, flags *globalFlags) error {
	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := docstore.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf(config.ErrInitializeStoreFmt, err)
	}

	// Background workers write to the store until ctx is done; close it after them.
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
		store.Close()
	}()

	clients := sse.NewClients()
	renderer := render.New(cfg.Render.SyntaxTheme)

	pdfs := repository.NewPDFRepository(store)
	posts := repository.NewBlogRepository(store)
	drafts := repository.NewDraftRepository(store)
	users := repository.NewUserRepository(store)

	posts.SetReloadNotifier(func(id model.PostID) {
		clients.Broadcast(sse.PostTopic(string(id)), "reload", "")
	})
	if err := posts.Init(ctx); err != nil {
		log.Error().Err(err).Msg(config.ErrInitializingPosts)
		return fmt.Errorf(config.ErrGetPostsFmt, err)
	}
	for _, p := range posts.List(repository.BlogListOptions{}) {
		renderer.Warm(p.Markdown, p.ContentHash)
	}

	pdfViews, postViews, err := viewCounters(ctx, cfg, store, &wg)
	if err != nil {
		return err
	}

	deps := server.Deps{
		PDFs:      pdfs,
		Posts:     posts,
		Drafts:    drafts,
		Requests:  repository.NewRequestRepository(store),
		Reviews:   repository.NewReviewRepository(store),
		Users:     users,
		PDFViews:  pdfViews,
		PostViews: postViews,
		Renderer:  renderer,
		Clients:   clients,
		Content:   web.Content,
	}

	if uploader := newUploader(ctx, cfg, log); uploader != nil {
		deps.Uploader = uploader
	}

	var backend search.Backend
	if cfg.Search.Enabled {
		meili := search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliKey)
		defer meili.Close()
		backend = meili
	}
	deps.Search = search.NewService(backend, search.NewLocal(pdfs, posts))
	deps.Search.Follow(ctx, store)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := deps.Search.ReindexAll(ctx); err != nil {
			log.Warn().Err(err).Msg("Initial search reindex failed")
		}
	}()

	deps.Editor = editor.NewManager(posts, drafts, clients, editor.Options{Debounce: cfg.Autosave.Debounce})
	wg.Add(1)
	go func() {
		defer wg.Done()
		deps.Editor.Run(ctx, editorSweepInterval, editorMaxIdle)
	}()

	if cfg.Auth.ClerkSecretKey != "" {
		deps.Clerk = auth.NewClerkProvider(cfg.Auth, users)
	} else {
		log.Warn().Msg("No Clerk secret key set, only admin sign-in is available")
	}
	if cfg.Auth.AdminPublicKey != "" {
		adminKey, err := auth.NewAdminKeyProvider(cfg.Auth.AdminPublicKey)
		if err != nil {
			log.Error().Err(err).Msg("Admin key sign-in disabled")
		} else {
			deps.AdminKey = adminKey
		}
	}

	srv, err := server.New(cfg, deps, log)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

// viewCounters picks the counter backend. Redis counters are flushed to the
// store by a worker tracked in wg.
func viewCounters(ctx context.Context, cfg *config.Config, store docstore.Store, wg *sync.WaitGroup) (views.Counter, views.Counter, error) {
	if cfg.Views.Backend != config.ViewsBackendRedis {
		return views.NewDocCounter(store, config.CollectionPDFs), views.NewDocCounter(store, config.CollectionBlogPosts), nil
	}

	client, err := views.NewRedisClient(cfg.Views.RedisURL)
	if err != nil {
		return nil, nil, err
	}

	counters := []*views.RedisCounter{
		views.NewRedisCounter(client, store, config.CollectionPDFs),
		views.NewRedisCounter(client, store, config.CollectionBlogPosts),
	}
	var flushers sync.WaitGroup
	for _, c := range counters {
		c := c
		flushers.Add(1)
		go func() {
			defer flushers.Done()
			c.Run(ctx, cfg.Views.FlushInterval)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		flushers.Wait()
		client.Close()
	}()
	return counters[0], counters[1], nil
}

// newUploader returns nil when no bucket is configured or the client cannot be built.
func newUploader(ctx context.Context, cfg *config.Config, log zerolog.Logger) *storage.Uploader {
	if cfg.Storage.Bucket == "" {
		log.Warn().Msg("No storage bucket configured, uploads are disabled")
		return nil
	}
	client, err := storage.NewS3Client(ctx, cfg.Storage)
	if err != nil {
		log.Error().Err(err).Msg("Object storage unavailable, uploads are disabled")
		return nil
	}
	return storage.NewUploader(client, cfg.Storage)
}
