package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/secmon-lab/actiongate/pkg/usecase"
)

// DefaultMaxBodyBytes bounds the size of a request body
const DefaultMaxBodyBytes int64 = 1 << 20

type Server struct {
	router       *chi.Mux
	uc           *usecase.UseCases
	maxBodyBytes int64
	enableAdmin  bool
}

type Options func(*Server)

// WithMaxBodyBytes overrides DefaultMaxBodyBytes
func WithMaxBodyBytes(n int64) Options {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// WithAdmin toggles the tenant binding administration routes
func WithAdmin(enabled bool) Options {
	return func(s *Server) {
		s.enableAdmin = enabled
	}
}

func New(uc *usecase.UseCases, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:       r,
		uc:           uc,
		maxBodyBytes: DefaultMaxBodyBytes,
		enableAdmin:  true,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(correlationID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/actions", s.executeAction)

		r.Get("/providers", s.listProviders)
		r.Get("/providers/health", s.providerHealth)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			if s.enableAdmin {
				r.Post("/providers", s.activateProvider)
				r.Delete("/providers/{providerName}", s.deactivateProvider)
			}
			r.Get("/audit", s.listAudit)
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}
