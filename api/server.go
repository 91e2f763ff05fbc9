/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Internal tooling runs on separate origins

ROUTE GROUPS:
  /api/timesheets/*   Timesheet submission and lifecycle
  /api/candidates/*   Candidate records
  /api/clients/*      Client records and pay-time policies
  /api/holidays       Bank-holiday calendars
  /api/rates/*        Rate windows and overrides
  /api/promotions     Promotion gate
  /api/invoices/*     Invoicing and credit notes
  /api/validations    External check results
  /api/admin/*        Flags, parked recompute items

SECURITY NOTE:
  No authentication middleware. The API binds to an internal address
  and is fronted by the platform gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/engine/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Timesheet routes
		r.Route("/timesheets", func(r chi.Router) {
			r.Post("/", h.SubmitTimesheet)
			r.Get("/{id}", h.GetTimesheet)
			r.Post("/{id}/revoke", h.RevokeTimesheet)
			r.Post("/{id}/recompute", h.RecomputeTimesheet)
			r.Get("/{id}/snapshot", h.GetSnapshot)
		})

		// Context routes
		r.Put("/candidates/{id}", h.UpsertCandidate)
		r.Put("/clients/{id}", h.UpsertClient)
		r.Post("/holidays", h.AddHoliday)

		// Rate routes
		r.Route("/rates", func(r chi.Router) {
			r.Post("/windows", h.CreateRateWindow)
			r.Post("/windows/{id}/disable", h.DisableRateWindow)
			r.Post("/windows/{id}/enable", h.EnableRateWindow)
			r.Post("/overrides", h.CreateRateOverride)
		})

		// Billing routes
		r.Post("/promotions", h.Promote)
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/issue", h.IssueInvoice)
			r.Post("/{id}/hold", h.HoldInvoice)
			r.Post("/{id}/resume", h.ResumeInvoice)
			r.Post("/{id}/pay", h.PayInvoice)
			r.Post("/{id}/credit-note", h.IssueCreditNote)
		})
		r.Post("/validations", h.PutValidation)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Put("/flags/{name}", h.SetFlag)
			r.Get("/outbox/parked", h.ListParked)
		})
	})

	// Health probe for the gateway
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
