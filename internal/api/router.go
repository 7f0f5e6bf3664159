/**
 * @description
 * This file sets up the HTTP router for the instrument-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// InstrumentRoutes creates and returns a new router for the instrument service.
func InstrumentRoutes(h *InstrumentHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require customer authentication.
	r.Group(func(r chi.Router) {
		// Apply JWT authentication middleware for production
		r.Use(JWTAuthMiddleware(jwksURL))

		r.Post("/instruments", h.CreateInstrumentHandler)
		r.Get("/instruments", h.ListInstrumentsHandler)
		r.Get("/instruments/{number}", h.GetInstrumentHandler)
		r.Get("/instruments/{number}/records", h.ListRecordsHandler)

		// Balance mutations
		r.Post("/instruments/deposit", h.DepositHandler)
		r.Post("/instruments/withdraw", h.WithdrawHandler)
		r.Post("/instruments/purchase", h.PurchaseHandler)
		r.Post("/instruments/payment", h.PaymentHandler)
		r.Post("/instruments/transfer", h.TransferHandler)
		r.Post("/instruments/redeem", h.RedeemHandler)

		// Application workflow (customer side)
		r.Post("/applications", h.SubmitApplicationHandler)
		r.Get("/applications", h.ListMyApplicationsHandler)
		r.Get("/applications/{number}", h.GetApplicationHandler)
	})

	// Internal endpoints for reviewers and service-to-service calls.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/internal/instruments/{number}/blocked", h.SetBlockedHandler)
		r.Post("/internal/instruments/credit", h.CreditHandler)
		r.Post("/internal/instruments/debit", h.DebitHandler)

		r.Get("/internal/applications", h.ListApplicationQueueHandler)
		r.Post("/internal/applications/{number}/under-review", h.MarkUnderReviewHandler)
		r.Post("/internal/applications/{number}/review", h.ReviewApplicationHandler)
		r.Post("/internal/applications/{number}/issue", h.IssueApplicationHandler)
	})

	return r
}
