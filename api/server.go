/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: Structured request logs (httplog, ECS schema)
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. Heartbeat:     GET /health for load balancers
  5. CORS:          Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/reconcile        Stateless reconciliation
  /api/schedules/*      Schedule definitions
  /api/employees/*      Assignments, punches, timesheets, overtime bank
  /api/holidays/*       Holiday calendar
  /api/absences         Approved absences
  /api/admin/*          Scheduler operations

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/reconcile", h.Reconcile)

		// Schedule routes
		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", h.ListSchedules)
			r.Post("/", h.CreateSchedule)
			r.Get("/{id}", h.GetSchedule)
			r.Get("/{id}/expected", h.GetExpectedDay)
		})

		// Employee routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Put("/schedule", h.AssignSchedule)
			r.Post("/events", h.RecordEvents)
			r.Get("/timesheet", h.GetTimesheet)
			r.Post("/timesheet/{date}/post", h.PostDay)

			r.Route("/overtime", func(r chi.Router) {
				r.Get("/movements", h.ListMovements)
				r.Post("/movements", h.AppendMovement)
				r.Get("/summary", h.GetOvertimeSummary)
				r.Get("/verify", h.VerifyLedger)
			})
		})

		// Holiday routes
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
			r.Post("/import", h.ImportHolidays)
			r.Delete("/{id}", h.DeleteHoliday)
		})

		r.Post("/absences", h.CreateAbsence)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Get("/sweep-runs", h.ListSweepRuns)
		})
	})

	return r
}
