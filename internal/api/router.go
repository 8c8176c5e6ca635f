/**
 * @description
 * HTTP router setup for the commission service using go-chi/chi.
 */
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/affiliatehub/commission-service/internal/domain"
)

// NewRouter creates a new Chi router and registers commission routes.
func NewRouter(h *Handler, verifier TokenVerifier, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/events/user-registered", h.UserRegistered)
		r.Post("/events/order-paid", h.OrderPaid)
		r.Post("/events/subscription-purchased", h.SubscriptionPurchased)
		r.Post("/jobs/expire-subscriptions", h.ExpireSubscriptions)
		r.Post("/jobs/backfill", h.RunBackfills)
	})

	r.Route("/me", func(r chi.Router) {
		r.Use(AuthMiddleware(verifier))
		r.Get("/commissions", h.ListMyCommissions)
		r.Get("/balance", h.GetMyBalance)
		r.Post("/payouts", h.RequestPayout)
		r.Get("/payouts", h.ListMyPayouts)
		r.Get("/invite", h.GetInviteLink)
		r.Get("/invite/qr", h.GetInviteQRCode)
		r.Get("/subscriptions", h.GetMySubscription)
		r.With(RequireRole(domain.RoleCustomer)).Post("/subscriptions", h.Subscribe)
		r.With(RequireRole(domain.RoleCustomer)).Delete("/subscriptions", h.CancelSubscription)
		r.Get("/content-access", h.CheckContentAccess)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware(verifier))
		r.Use(RequireRole(domain.RoleAdmin))
		r.Post("/commissions/approve", h.ApproveCommissions)
		r.Post("/commissions/{id}/approve", h.ApproveCommission)
		r.Get("/payouts", h.ListPayouts)
		r.Post("/payouts/{id}/approve", h.ApprovePayout)
		r.Put("/users/{id}/manager", h.AssignManager)
		r.Put("/users/{id}/role", h.ChangeRole)
		r.Delete("/users/{id}", h.DeleteUser)
		r.Get("/reports/commissions.xlsx", h.CommissionsReport)
		r.Get("/reports/payouts.xlsx", h.PayoutsReport)
	})

	return r
}
