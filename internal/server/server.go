package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/collectica/zipserve/internal/admission"
	"github.com/collectica/zipserve/internal/archive"
	"github.com/collectica/zipserve/internal/catalog"
	"github.com/collectica/zipserve/internal/estimate"
	"github.com/collectica/zipserve/internal/logging"
	"github.com/collectica/zipserve/internal/progress"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
}

// Server exposes download building, estimation, progress, and
// cancellation over HTTP.
type Server struct {
	catalog   catalog.Catalog
	estimator *estimate.Estimator
	admission *admission.Controller
	builder   *archive.Builder
	store     *progress.Store
	opts      Options
	log       *slog.Logger
}

// New wires a server from its collaborators.
func New(cat catalog.Catalog, est *estimate.Estimator, adm *admission.Controller, builder *archive.Builder, store *progress.Store, opts Options) *Server {
	return &Server{
		catalog:   cat,
		estimator: est,
		admission: adm,
		builder:   builder,
		store:     store,
		opts:      opts,
		log:       logging.Component("server"),
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{"X-Progress-Token", "X-Zip-Trace"},
			MaxAge:         300,
		}))
	}

	r.Post("/download/item/{id}", s.handleDownload)
	r.Post("/download/estimate", s.handleEstimate)
	r.Get("/download/status", s.handleStatus)
	r.Post("/download/cancel", s.handleCancel)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
