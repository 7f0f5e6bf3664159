/**
 * @description
 * This file contains the HTTP handlers for the instrument-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/corebank/instrument-service/internal/app"
	"github.com/corebank/instrument-service/internal/domain"
	"github.com/corebank/instrument-service/internal/idgen"
	"github.com/corebank/instrument-service/internal/store"
)

// ErrorResponse is the JSON shape of error replies.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InstrumentHandlers holds the application services that handlers will use.
type InstrumentHandlers struct {
	service *app.Service
	apps    *app.ApplicationService
}

// NewInstrumentHandlers creates a new instance of InstrumentHandlers.
func NewInstrumentHandlers(service *app.Service, apps *app.ApplicationService) *InstrumentHandlers {
	return &InstrumentHandlers{service: service, apps: apps}
}

// createInstrumentRequest is the payload for direct instrument creation. Only
// accounts and gift cards may be opened this way; credit cards and loans go
// through the application workflow.
type createInstrumentRequest struct {
	Kind           string     `json:"kind"`
	Currency       string     `json:"currency"`
	OpeningBalance int64      `json:"opening_balance"` // in cents
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// CreateInstrumentHandler handles direct creation of accounts and gift cards.
func (h *InstrumentHandlers) CreateInstrumentHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	var req createInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Kind != domain.KindAccount && req.Kind != domain.KindGiftCard {
		h.writeError(w, http.StatusBadRequest, "Only accounts and gift cards can be created directly; apply for credit products instead")
		return
	}

	inst, err := h.service.CreateInstrument(r.Context(), ownerID, req.Kind, domain.OpeningTerms{
		Currency:       req.Currency,
		OpeningBalance: req.OpeningBalance,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		h.writeServiceError(w, "create_instrument", err)
		return
	}

	log.Printf("level=info component=api endpoint=create_instrument outcome=created owner_id=%s number=%s kind=%s", ownerID, inst.Number, inst.Kind)
	h.writeJSON(w, http.StatusCreated, inst)
}

// ListInstrumentsHandler returns all instruments owned by the caller.
func (h *InstrumentHandlers) ListInstrumentsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	instruments, err := h.service.ListInstruments(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, "list_instruments", err)
		return
	}
	h.writeJSON(w, http.StatusOK, instruments)
}

// GetInstrumentHandler fetches one instrument by number, enforcing ownership.
func (h *InstrumentHandlers) GetInstrumentHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	inst, ok := h.ownedInstrument(w, r, ownerID)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, inst)
}

// ListRecordsHandler returns the transaction history of an owned instrument,
// newest first. An optional limit query parameter caps the page size.
func (h *InstrumentHandlers) ListRecordsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	inst, ok := h.ownedInstrument(w, r, ownerID)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	records, err := h.service.ListRecords(r.Context(), inst.Number, limit)
	if err != nil {
		h.writeServiceError(w, "list_records", err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// DepositHandler credits an owned account or gift card.
func (h *InstrumentHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, "deposit", h.service.Deposit)
}

// WithdrawHandler debits an owned account.
func (h *InstrumentHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, "withdraw", h.service.Withdraw)
}

// PurchaseHandler draws against an owned credit card or loan.
func (h *InstrumentHandlers) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, "purchase", h.service.Purchase)
}

// PaymentHandler pays down the outstanding balance of a credit card or loan.
func (h *InstrumentHandlers) PaymentHandler(w http.ResponseWriter, r *http.Request) {
	h.handleMutation(w, r, "payment", h.service.Payment)
}

// handleMutation is the shared request flow for single-instrument balance
// mutations: decode, check ownership, run the operation, map the result.
// A declined mutation carries its record back with a 422 status.
func (h *InstrumentHandlers) handleMutation(w http.ResponseWriter, r *http.Request, endpoint string, op func(ctx context.Context, req domain.MutationRequest) (*domain.MutationResult, error)) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	var req domain.MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !h.requireOwnership(w, r, ownerID, req.InstrumentNumber, endpoint) {
		return
	}

	result, err := op(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInsufficientFunds) && result != nil {
			h.writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		h.writeServiceError(w, endpoint, err)
		return
	}

	log.Printf("level=info component=api endpoint=%s outcome=completed number=%s amount=%d", endpoint, req.InstrumentNumber, req.Amount)
	h.writeJSON(w, http.StatusOK, result)
}

// TransferHandler moves value between two plain accounts owned by the caller
// or a counterpart.
func (h *InstrumentHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !h.requireOwnership(w, r, ownerID, req.FromNumber, "transfer") {
		return
	}

	result, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInsufficientFunds) && result != nil {
			h.writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		h.writeServiceError(w, "transfer", err)
		return
	}

	log.Printf("level=info component=api endpoint=transfer outcome=completed from=%s to=%s amount=%d", req.FromNumber, req.ToNumber, req.Amount)
	h.writeJSON(w, http.StatusOK, result)
}

// RedeemHandler redeems an owned gift card, optionally depositing the value
// into an external account.
func (h *InstrumentHandlers) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	var req domain.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if !h.requireOwnership(w, r, ownerID, req.CardNumber, "redeem") {
		return
	}

	result, err := h.service.Redeem(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInsufficientFunds) && result != nil {
			h.writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		h.writeServiceError(w, "redeem", err)
		return
	}

	log.Printf("level=info component=api endpoint=redeem outcome=completed card=%s", req.CardNumber)
	h.writeJSON(w, http.StatusOK, result)
}

type blockRequest struct {
	Blocked bool `json:"blocked"`
}

// SetBlockedHandler blocks or unblocks an instrument. Internal endpoint.
func (h *InstrumentHandlers) SetBlockedHandler(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	number := chi.URLParam(r, "number")
	inst, err := h.service.SetInstrumentBlocked(r.Context(), number, req.Blocked)
	if err != nil {
		h.writeServiceError(w, "set_blocked", err)
		return
	}

	log.Printf("level=info component=api endpoint=set_blocked number=%s blocked=%t", number, req.Blocked)
	h.writeJSON(w, http.StatusOK, inst)
}

// CreditHandler credits any instrument, routing to deposit or payment
// semantics by kind. Internal endpoint for service-to-service postings such
// as incoming settlements.
func (h *InstrumentHandlers) CreditHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.Credit(r.Context(), req.InstrumentNumber, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, "internal_credit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// DebitHandler debits any instrument, routing to withdraw or purchase
// semantics by kind. Internal endpoint.
func (h *InstrumentHandlers) DebitHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.Debit(r.Context(), req.InstrumentNumber, req.Amount, req.Description)
	if err != nil {
		if errors.Is(err, app.ErrInsufficientFunds) && result != nil {
			h.writeJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		h.writeServiceError(w, "internal_debit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// authOwnerID extracts and parses the authenticated owner's UUID from the
// request context, writing the error response itself when it cannot.
func (h *InstrumentHandlers) authOwnerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, false
	}
	ownerID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id user_id=%s", userIDStr)
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return ownerID, true
}

// ownedInstrument loads the instrument in the URL and checks the caller owns it.
func (h *InstrumentHandlers) ownedInstrument(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID) (*domain.Instrument, bool) {
	number := chi.URLParam(r, "number")
	inst, err := h.service.GetInstrument(r.Context(), number)
	if err != nil {
		h.writeServiceError(w, "get_instrument", err)
		return nil, false
	}
	if inst.OwnerID != ownerID {
		h.writeError(w, http.StatusForbidden, "Instrument does not belong to the authenticated user")
		return nil, false
	}
	return inst, true
}

// requireOwnership checks that the named instrument belongs to the caller.
func (h *InstrumentHandlers) requireOwnership(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID, number, endpoint string) bool {
	inst, err := h.service.GetInstrument(r.Context(), number)
	if err != nil {
		h.writeServiceError(w, endpoint, err)
		return false
	}
	if inst.OwnerID != ownerID {
		log.Printf("level=warn component=api endpoint=%s outcome=reject reason=ownership number=%s owner_id=%s", endpoint, number, ownerID)
		h.writeError(w, http.StatusForbidden, "Instrument does not belong to the authenticated user")
		return false
	}
	return true
}

// writeServiceError maps service-layer errors onto HTTP statuses.
func (h *InstrumentHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrInstrumentNotFound),
		errors.Is(err, store.ErrApplicationNotFound),
		errors.Is(err, store.ErrRecordNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidState),
		errors.Is(err, app.ErrAlreadyIssued),
		errors.Is(err, store.ErrDuplicateNumber),
		errors.Is(err, idgen.ErrExhausted):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrExternalDeposit):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *InstrumentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *InstrumentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, ErrorResponse{Error: message})
}
