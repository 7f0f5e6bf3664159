package domain

import (
	"time"

	"github.com/google/uuid"
)

// Application statuses. Transitions only move forward:
// pending -> under_review -> approved | rejected, approved -> issued.
const (
	AppPending     = "pending"
	AppUnderReview = "under_review"
	AppApproved    = "approved"
	AppRejected    = "rejected"
	AppIssued      = "issued"
)

// Application is the review-workflow record gating instrument creation.
// One approved application yields exactly one instrument.
type Application struct {
	ID     uuid.UUID `json:"id"`
	Number string    `json:"number"` // external application number, unique

	OwnerID uuid.UUID `json:"owner_id"`
	Kind    string    `json:"kind"` // requested instrument kind

	// Requested terms.
	RequestedAmount int64  `json:"requested_amount"` // cents: initial deposit, requested limit, or loan principal
	TermMonths      int    `json:"term_months"`      // loans
	Currency        string `json:"currency"`
	Purpose         string `json:"purpose"`

	// Applicant attributes feeding the scoring calculator.
	MonthlyIncome   int64 `json:"monthly_income"` // in cents
	EmploymentYears int   `json:"employment_years"`
	ExistingDebt    int64 `json:"existing_debt"` // in cents

	CreditScore int    `json:"credit_score"`
	Status      string `json:"status"`

	// Review outcome. Approved terms are required on approval; the rejection
	// reason is required on rejection.
	ApprovedLimit      *int64     `json:"approved_limit,omitempty"`       // in cents
	ApprovedRateBps    *int64     `json:"approved_rate_bps,omitempty"`    // loans; 800 == 8.00%
	MonthlyInstallment *int64     `json:"monthly_installment,omitempty"`  // loans, in cents
	RejectionReason    *string    `json:"rejection_reason,omitempty"`
	ReviewedBy         *string    `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`

	// Set at most once, when the approved application is issued.
	InstrumentID *uuid.UUID `json:"instrument_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubmitApplicationRequest is the DTO for new applications.
type SubmitApplicationRequest struct {
	OwnerID         uuid.UUID `json:"owner_id"`
	Kind            string    `json:"kind"`
	RequestedAmount int64     `json:"requested_amount"` // in cents
	TermMonths      int       `json:"term_months"`
	Currency        string    `json:"currency"`
	Purpose         string    `json:"purpose"`
	MonthlyIncome   int64     `json:"monthly_income"` // in cents
	EmploymentYears int       `json:"employment_years"`
	ExistingDebt    int64     `json:"existing_debt"` // in cents
}

// ReviewDecision is the DTO for a reviewer's approve/reject call.
type ReviewDecision struct {
	Approve         bool   `json:"approve"`
	ApprovedLimit   int64  `json:"approved_limit"`    // in cents; required on approval
	ApprovedRateBps int64  `json:"approved_rate_bps"` // required for loan approvals
	RejectionReason string `json:"rejection_reason"`  // required on rejection
	ReviewerID      string `json:"reviewer_id"`
}
