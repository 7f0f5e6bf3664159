/**
 * @description
 * HTTP handlers for the application workflow: customers submit and track
 * applications; reviewers (behind the internal API key) triage, decide and
 * issue them.
 */

package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corebank/instrument-service/internal/domain"
)

// submitApplicationRequest is the customer-facing payload; the owner comes
// from the bearer token, never the body.
type submitApplicationRequest struct {
	Kind            string `json:"kind"`
	RequestedAmount int64  `json:"requested_amount"` // in cents
	TermMonths      int    `json:"term_months"`
	Currency        string `json:"currency"`
	Purpose         string `json:"purpose"`
	MonthlyIncome   int64  `json:"monthly_income"` // in cents
	EmploymentYears int    `json:"employment_years"`
	ExistingDebt    int64  `json:"existing_debt"` // in cents
}

// SubmitApplicationHandler handles new applications from customers.
func (h *InstrumentHandlers) SubmitApplicationHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	var req submitApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	application, err := h.apps.Submit(r.Context(), domain.SubmitApplicationRequest{
		OwnerID:         ownerID,
		Kind:            req.Kind,
		RequestedAmount: req.RequestedAmount,
		TermMonths:      req.TermMonths,
		Currency:        req.Currency,
		Purpose:         req.Purpose,
		MonthlyIncome:   req.MonthlyIncome,
		EmploymentYears: req.EmploymentYears,
		ExistingDebt:    req.ExistingDebt,
	})
	if err != nil {
		h.writeServiceError(w, "submit_application", err)
		return
	}

	log.Printf("level=info component=api endpoint=submit_application outcome=created owner_id=%s number=%s kind=%s score=%d", ownerID, application.Number, application.Kind, application.CreditScore)
	h.writeJSON(w, http.StatusCreated, application)
}

// ListMyApplicationsHandler returns the caller's applications.
func (h *InstrumentHandlers) ListMyApplicationsHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	applications, err := h.apps.ListApplicationsByOwner(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, "list_applications", err)
		return
	}
	h.writeJSON(w, http.StatusOK, applications)
}

// GetApplicationHandler fetches one application by number, enforcing ownership.
func (h *InstrumentHandlers) GetApplicationHandler(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.authOwnerID(w, r)
	if !ok {
		return
	}

	number := chi.URLParam(r, "number")
	application, err := h.apps.GetApplication(r.Context(), number)
	if err != nil {
		h.writeServiceError(w, "get_application", err)
		return
	}
	if application.OwnerID != ownerID {
		h.writeError(w, http.StatusForbidden, "Application does not belong to the authenticated user")
		return
	}
	h.writeJSON(w, http.StatusOK, application)
}

// ListApplicationQueueHandler lists applications by status for reviewers.
func (h *InstrumentHandlers) ListApplicationQueueHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = domain.AppPending
	}

	applications, err := h.apps.ListApplicationsByStatus(r.Context(), status)
	if err != nil {
		h.writeServiceError(w, "list_application_queue", err)
		return
	}
	h.writeJSON(w, http.StatusOK, applications)
}

// MarkUnderReviewHandler flags that a reviewer has picked up an application.
func (h *InstrumentHandlers) MarkUnderReviewHandler(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	application, err := h.apps.MarkUnderReview(r.Context(), number)
	if err != nil {
		h.writeServiceError(w, "mark_under_review", err)
		return
	}
	h.writeJSON(w, http.StatusOK, application)
}

// ReviewApplicationHandler records a reviewer's approve/reject decision.
func (h *InstrumentHandlers) ReviewApplicationHandler(w http.ResponseWriter, r *http.Request) {
	var decision domain.ReviewDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	number := chi.URLParam(r, "number")
	application, err := h.apps.Review(r.Context(), number, decision)
	if err != nil {
		h.writeServiceError(w, "review_application", err)
		return
	}

	log.Printf("level=info component=api endpoint=review_application number=%s status=%s reviewer=%s", number, application.Status, decision.ReviewerID)
	h.writeJSON(w, http.StatusOK, application)
}

// IssueApplicationHandler materializes the instrument for an approved application.
func (h *InstrumentHandlers) IssueApplicationHandler(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	inst, err := h.apps.Issue(r.Context(), number)
	if err != nil {
		h.writeServiceError(w, "issue_application", err)
		return
	}

	log.Printf("level=info component=api endpoint=issue_application outcome=issued application=%s instrument=%s", number, inst.Number)
	h.writeJSON(w, http.StatusCreated, inst)
}
