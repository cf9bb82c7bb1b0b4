/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Maps the retail routes onto Handler and resource methods.

MIDDLEWARE STACK (outermost first):
  1. Logger:     One access line per request
  2. Recoverer:  A panicking handler returns 500
  3. RequestID:  X-Request-Id on every request
  4. CORS:       Browser clients; If-Match allowed, ETag and Location exposed

ROUTE GROUPS:
  /api/customers/*      Customer management
  /api/products/*       Product management
  /api/stores/*         Store management
  /api/sales/*          Sales
  /api/integrity/*      Dangling-reference scans
  /api/scenarios/*      Demo scenarios
  /healthz              Storage health

SECURITY NOTE:
  No authentication. Put the service behind a gateway before exposing it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cli/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultCORSOrigins are allowed when the caller configures none.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match"},
		ExposedHeaders:   []string{"ETag", "Location"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.customers.List)
			r.Post("/", h.customers.Create)
			r.Get("/{id}", h.customers.Get)
			r.Put("/{id}", h.customers.Update)
			r.Delete("/{id}", h.customers.Delete)
			r.Get("/{id}/sales", h.customers.Sales)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.products.List)
			r.Post("/", h.products.Create)
			r.Get("/{id}", h.products.Get)
			r.Put("/{id}", h.products.Update)
			r.Delete("/{id}", h.products.Delete)
			r.Get("/{id}/sales", h.products.Sales)
		})

		r.Route("/stores", func(r chi.Router) {
			r.Get("/", h.stores.List)
			r.Post("/", h.stores.Create)
			r.Get("/{id}", h.stores.Get)
			r.Put("/{id}", h.stores.Update)
			r.Delete("/{id}", h.stores.Delete)
			r.Get("/{id}/sales", h.stores.Sales)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Post("/", h.sales.Create)
			r.Get("/{id}", h.GetSale)
			r.Put("/{id}", h.sales.Update)
			r.Delete("/{id}", h.sales.Delete)
		})

		r.Route("/integrity", func(r chi.Router) {
			r.Get("/", h.GetIntegrityReport)
			r.Post("/scan", h.RunIntegrityScan)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
