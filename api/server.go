// Package api exposes the property catalog and selection flow over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"property-sync/ingest"
	"property-sync/services"
	"property-sync/storage"
	"property-sync/utils"
)

const shutdownTimeout = 10 * time.Second

// Server serves the catalog held by an ingest.Cache. Selection routes need a
// SelectionStore and answer 503 without one.
type Server struct {
	logger    *utils.Logger
	cache     *ingest.Cache
	store     storage.SelectionStore
	presenter *services.Presenter
	validate  *validator.Validate
	origins   []string
}

// NewServer creates a Server. store may be nil.
func NewServer(logger *utils.Logger, cache *ingest.Cache, store storage.SelectionStore, corsOrigins []string) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	var reviewed services.ReviewedStore
	if store != nil {
		reviewed = services.ReviewedFromReactions(store)
	}

	return &Server{
		logger:    logger,
		cache:     cache,
		store:     store,
		presenter: services.NewPresenter(logger, reviewed),
		validate:  validator.New(),
		origins:   corsOrigins,
	}
}

// Router builds the chi router with every route and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP, s.requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/sync", s.handleSync)
	r.Get("/properties", s.handleListProperties)
	r.Get("/properties/{id}", s.handleGetProperty)
	r.Post("/resolve", s.handleResolve)

	r.Route("/selections", func(r chi.Router) {
		r.Use(s.requireStore)
		r.Post("/", s.handleCreateSelection)
		r.Get("/{token}", s.handlePresentSelection)
		r.Post("/{id}/reactions", s.handleSaveReaction)
		r.Get("/{id}/reactions", s.handleListReactions)
	})

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[api] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("[api] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observeRequest(r.Method, route, status)
		s.logger.Debug("[api] %s %s → %d (%s)", r.Method, r.URL.Path, status, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "selection store not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
