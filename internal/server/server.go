// Package server exposes hosted feeds over HTTP: rendered RSS, stored
// records, websocket replication and the catalog API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KRYPTOHAUS/hyperfeed/internal/auth"
	"github.com/KRYPTOHAUS/hyperfeed/internal/hub"
	"github.com/KRYPTOHAUS/hyperfeed/internal/logging"
	"github.com/KRYPTOHAUS/hyperfeed/internal/rss"
)

// maxDocumentBytes caps request bodies carrying feed or OPML documents.
const maxDocumentBytes = 10 << 20

// Options configures a Server.
type Options struct {
	// Secret enables bearer-token checks on mutating routes.
	Secret []byte
	// Poller, when set, runs for the lifetime of Run.
	Poller *rss.Poller
	Logger logging.Logger
}

// Server is the main HTTP server.
type Server struct {
	hub    *hub.Hub
	syncer *rss.Syncer
	poller *rss.Poller
	secret []byte
	log    logging.Logger
	router chi.Router
}

// New creates a new server.
func New(h *hub.Hub, syncer *rss.Syncer, opts Options) *Server {
	s := &Server{
		hub:    h,
		syncer: syncer,
		poller: opts.Poller,
		secret: opts.Secret,
		log:    opts.Logger,
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	s.setupRoutes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	requireToken := auth.Middleware(s.secret)

	// Plain HTTP routes. Websocket upgrades stay outside Compress.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Route("/api", func(r chi.Router) {
			r.Get("/feeds", s.handleListFeeds)
			r.Get("/settings", s.handleGetSettings)
			r.Get("/export-opml", s.handleExportOPML)

			r.Group(func(r chi.Router) {
				r.Use(requireToken)
				r.Post("/feeds", s.handleCreateFeed)
				r.Post("/feeds/follow", s.handleFollowFeed)
				r.Delete("/feeds/{key}", s.handleDeleteFeed)
				r.Post("/settings", s.handleSaveSettings)
				r.Post("/import-opml", s.handleImportOPML)
				r.Post("/refresh", s.handleRefresh)
			})
		})

		r.Route("/feeds/{key}", func(r chi.Router) {
			r.Get("/rss", s.handleRSS)
			r.Get("/meta", s.handleGetMeta)
			r.Get("/items", s.handleListItems)
			r.Get("/items/*", s.handleGetItem)
			r.Get("/scrap/*", s.handleGetScrap)

			r.Group(func(r chi.Router) {
				r.Use(requireToken)
				r.Post("/items", s.handlePush)
				r.Put("/meta", s.handleSetMeta)
				r.Post("/update", s.handleUpdate)
				r.Post("/sync", s.handleSync)
			})
		})
	})

	r.Get("/feeds/{key}/live", s.handleLive)
	r.Get("/feeds/{key}/replicate", s.handleReplicate)

	s.router = r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.poller != nil {
		s.poller.Start()
		defer s.poller.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
