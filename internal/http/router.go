package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ledger-backend/internal/auth"
	"ledger-backend/internal/handlers"
	"ledger-backend/internal/middleware"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Ledger    *handlers.LedgerHandler
	KPI       *handlers.KPIHandler
	Renewal   *handlers.RenewalHandler
	Occupancy *handlers.OccupancyHandler
	Webhook   *handlers.WebhookHandler
	Audit     *handlers.AuditHandler
	Health    *handlers.HealthHandler
}

func NewRouter(h Handlers, authMiddleware *middleware.AuthMiddleware) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware)

	adminOnly := func(fn http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.RequireRole(auth.RoleAdmin)(fn).ServeHTTP
	}
	staff := func(fn http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.RequireRole(auth.RoleAdmin, auth.RoleOperator)(fn).ServeHTTP
	}

	// Health and metrics
	r.HandleFunc("/health", h.Health.BasicHealth).Methods("GET")
	r.HandleFunc("/health/ready", h.Health.ReadinessHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Public: signed payment callbacks and unit calendar feeds
	r.HandleFunc("/api/webhooks/payments", h.Webhook.PaymentCallback).Methods("POST")
	r.HandleFunc("/ical/units/{unitId}.ics", h.Occupancy.ExportFeed).Methods("GET")

	// Ledger
	ledgerAPI := r.PathPrefix("/api/ledger").Subrouter()
	ledgerAPI.Use(authMiddleware.Authenticate)
	ledgerAPI.HandleFunc("", h.Ledger.Search).Methods("GET")
	ledgerAPI.HandleFunc("", staff(h.Ledger.Create)).Methods("POST")
	ledgerAPI.HandleFunc("/{id}", h.Ledger.Get).Methods("GET")
	ledgerAPI.HandleFunc("/{id}/invoice.pdf", h.Ledger.InvoicePDF).Methods("GET")
	ledgerAPI.HandleFunc("/{id}/status", adminOnly(h.Ledger.TransitionStatus)).Methods("POST")
	ledgerAPI.HandleFunc("/{id}/adjustments", adminOnly(h.Ledger.CreateAdjustment)).Methods("POST")

	// KPIs
	kpiAPI := r.PathPrefix("/api/kpis").Subrouter()
	kpiAPI.Use(authMiddleware.Authenticate)
	kpiAPI.HandleFunc("", h.KPI.Global).Methods("GET")
	kpiAPI.HandleFunc("/occupancy", h.KPI.Occupancy).Methods("GET")
	kpiAPI.HandleFunc("/buildings/{buildingId}", h.KPI.Building).Methods("GET")

	// Renewals
	renewalsAPI := r.PathPrefix("/api/renewals").Subrouter()
	renewalsAPI.Use(authMiddleware.Authenticate)
	renewalsAPI.HandleFunc("", h.Renewal.List).Methods("GET")
	renewalsAPI.HandleFunc("", staff(h.Renewal.Request)).Methods("POST")
	renewalsAPI.HandleFunc("/eligibility/{bookingId}", h.Renewal.CheckEligibility).Methods("GET")
	renewalsAPI.HandleFunc("/{id}", h.Renewal.Get).Methods("GET")
	renewalsAPI.HandleFunc("/{id}/approve", adminOnly(h.Renewal.Approve)).Methods("POST")
	renewalsAPI.HandleFunc("/{id}/reject", adminOnly(h.Renewal.Reject)).Methods("POST")
	renewalsAPI.HandleFunc("/{id}/cancel", staff(h.Renewal.Cancel)).Methods("POST")

	// Occupancy
	occupancyAPI := r.PathPrefix("/api/occupancy").Subrouter()
	occupancyAPI.Use(authMiddleware.Authenticate)
	occupancyAPI.HandleFunc("/units/{unitId}", h.Occupancy.IsUnitOccupied).Methods("GET")
	occupancyAPI.HandleFunc("/units/{unitId}/sync", adminOnly(h.Occupancy.SyncUnit)).Methods("POST")
	occupancyAPI.HandleFunc("/snapshots", adminOnly(h.Occupancy.GenerateSnapshot)).Methods("POST")
	occupancyAPI.HandleFunc("/sync", adminOnly(h.Occupancy.SyncAll)).Methods("POST")

	// Unit external mappings
	mappingsAPI := r.PathPrefix("/api/mappings").Subrouter()
	mappingsAPI.Use(authMiddleware.Authenticate)
	mappingsAPI.HandleFunc("", h.Occupancy.ListMappings).Methods("GET")
	mappingsAPI.HandleFunc("/{unitId}", h.Occupancy.GetMapping).Methods("GET")
	mappingsAPI.HandleFunc("/{unitId}", adminOnly(h.Occupancy.UpsertMapping)).Methods("PUT")
	mappingsAPI.HandleFunc("/{unitId}", adminOnly(h.Occupancy.DeleteMapping)).Methods("DELETE")

	// Audit trail (admin only)
	auditAPI := r.PathPrefix("/api/audit-logs").Subrouter()
	auditAPI.Use(authMiddleware.RequireRole(auth.RoleAdmin))
	auditAPI.HandleFunc("", h.Audit.List).Methods("GET")

	return r
}
