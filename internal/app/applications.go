/**
 * @description
 * The application workflow: the state machine gating instrument creation.
 * Applications move forward only — pending -> under_review -> approved or
 * rejected, approved -> issued — and each approved application yields exactly
 * one instrument.
 *
 * Review and issuance run under the same transaction scope as balance
 * mutation, locking the application row so concurrent reviewer actions
 * serialize: the second actor observes the decided state and fails with
 * ErrInvalidState (or ErrAlreadyIssued for a duplicate issue).
 *
 * @dependencies
 * - internal/scoring: credit score and EMI at submission/approval time.
 * - internal/idgen: application numbers.
 * - pkg/rabbitmq: review/issuance events.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/corebank/instrument-service/internal/domain"
	"github.com/corebank/instrument-service/internal/idgen"
	"github.com/corebank/instrument-service/internal/scoring"
	"github.com/corebank/instrument-service/internal/store"
	"github.com/corebank/instrument-service/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ApplicationService governs the application lifecycle from submission to
// instrument issuance.
type ApplicationService struct {
	repo    store.Repository
	ids     *idgen.Generator
	rng     scoring.Perturber
	mutator *Service
	events  rabbitmq.Publisher
	now     func() time.Time
}

// NewApplicationService creates a new application workflow instance. rng is
// the seedable perturbation source for credit scoring; the idgen.Generator
// itself satisfies it, so one seeded stream can drive both.
func NewApplicationService(repo store.Repository, ids *idgen.Generator, rng scoring.Perturber, mutator *Service, events rabbitmq.Publisher) *ApplicationService {
	return &ApplicationService{
		repo:    repo,
		ids:     ids,
		rng:     rng,
		mutator: mutator,
		events:  events,
		now:     time.Now,
	}
}

// Submit validates the request, computes the credit score and stores the
// application in pending for reviewer action.
func (s *ApplicationService) Submit(ctx context.Context, req domain.SubmitApplicationRequest) (*domain.Application, error) {
	if _, err := numberPrefix(req.Kind); err != nil {
		return nil, err
	}
	if req.RequestedAmount <= 0 {
		return nil, fmt.Errorf("%w: requested amount must be positive", ErrValidation)
	}
	if req.Kind == domain.KindLoan && req.TermMonths <= 0 {
		return nil, fmt.Errorf("%w: loan term must be positive", ErrValidation)
	}

	score := scoring.CreditScore(scoring.Applicant{
		MonthlyIncome:   decimal.New(req.MonthlyIncome, -2),
		EmploymentYears: req.EmploymentYears,
		ExistingDebt:    decimal.New(req.ExistingDebt, -2),
	}, s.rng)

	number, err := s.ids.Unique(ctx, idgen.PrefixApplication, idgen.ApplicationDigits, s.repo.ApplicationNumberExists)
	if err != nil {
		return nil, fmt.Errorf("failed to assign application number: %w", err)
	}

	app := &domain.Application{
		ID:              uuid.New(),
		Number:          number,
		OwnerID:         req.OwnerID,
		Kind:            req.Kind,
		RequestedAmount: req.RequestedAmount,
		TermMonths:      req.TermMonths,
		Currency:        req.Currency,
		Purpose:         req.Purpose,
		MonthlyIncome:   req.MonthlyIncome,
		EmploymentYears: req.EmploymentYears,
		ExistingDebt:    req.ExistingDebt,
		CreditScore:     score,
		Status:          domain.AppPending,
	}
	if app.Currency == "" {
		app.Currency = "USD"
	}
	if err := s.repo.CreateApplication(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return app, nil
}

// MarkUnderReview moves a pending application into under_review, flagging
// that a reviewer has picked it up.
func (s *ApplicationService) MarkUnderReview(ctx context.Context, number string) (*domain.Application, error) {
	var app *domain.Application
	err := s.repo.InTx(ctx, func(st store.Store) error {
		var err error
		app, err = st.GetApplicationByNumberForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if app.Status != domain.AppPending {
			return fmt.Errorf("%w: application %s is %s", ErrInvalidState, app.Number, app.Status)
		}
		app.Status = domain.AppUnderReview
		return st.SaveApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Review applies a reviewer's decision. Approval requires terms (a limit, and
// a rate for loans — the monthly installment is computed and stored here);
// rejection requires a non-empty reason. Only pending and under_review
// applications are reviewable.
func (s *ApplicationService) Review(ctx context.Context, number string, decision domain.ReviewDecision) (*domain.Application, error) {
	if strings.TrimSpace(decision.ReviewerID) == "" {
		return nil, fmt.Errorf("%w: reviewer id is required", ErrValidation)
	}

	var app *domain.Application
	err := s.repo.InTx(ctx, func(st store.Store) error {
		var err error
		app, err = st.GetApplicationByNumberForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if app.Status != domain.AppPending && app.Status != domain.AppUnderReview {
			return fmt.Errorf("%w: application %s is %s", ErrInvalidState, app.Number, app.Status)
		}

		reviewedAt := s.now().UTC()
		app.ReviewedBy = &decision.ReviewerID
		app.ReviewedAt = &reviewedAt

		if decision.Approve {
			if err := s.applyApproval(app, decision); err != nil {
				return err
			}
		} else {
			reason := strings.TrimSpace(decision.RejectionReason)
			if reason == "" {
				return fmt.Errorf("%w: rejection reason is required", ErrValidation)
			}
			app.Status = domain.AppRejected
			app.RejectionReason = &reason
		}

		return st.SaveApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}

	s.publishReviewed(ctx, app, decision.ReviewerID)
	return app, nil
}

func (s *ApplicationService) applyApproval(app *domain.Application, decision domain.ReviewDecision) error {
	switch app.Kind {
	case domain.KindCreditCard:
		if decision.ApprovedLimit <= 0 {
			return fmt.Errorf("%w: approved credit limit is required", ErrValidation)
		}
		limit := decision.ApprovedLimit
		app.ApprovedLimit = &limit
	case domain.KindLoan:
		if decision.ApprovedLimit <= 0 {
			return fmt.Errorf("%w: approved loan amount is required", ErrValidation)
		}
		if decision.ApprovedRateBps < 0 {
			return fmt.Errorf("%w: approved rate must not be negative", ErrValidation)
		}
		amount := decision.ApprovedLimit
		rate := decision.ApprovedRateBps
		emi, err := scoring.InstallmentCents(amount, rate, app.TermMonths)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		app.ApprovedLimit = &amount
		app.ApprovedRateBps = &rate
		app.MonthlyInstallment = &emi
	default:
		// Accounts and gift cards open on the requested amount; a reviewer
		// may still cap it.
		if decision.ApprovedLimit > 0 {
			limit := decision.ApprovedLimit
			app.ApprovedLimit = &limit
		}
	}
	app.Status = domain.AppApproved
	return nil
}

// Issue materializes the instrument for an approved application through the
// balance mutator's creation path, inside one transaction with the status
// flip. Issuing twice fails with ErrAlreadyIssued and performs no mutation.
func (s *ApplicationService) Issue(ctx context.Context, number string) (*domain.Instrument, error) {
	var inst *domain.Instrument
	var app *domain.Application
	err := s.repo.InTx(ctx, func(st store.Store) error {
		var err error
		app, err = st.GetApplicationByNumberForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if app.Status == domain.AppIssued || app.InstrumentID != nil {
			return fmt.Errorf("%w: application %s", ErrAlreadyIssued, app.Number)
		}
		if app.Status != domain.AppApproved {
			return fmt.Errorf("%w: application %s is %s", ErrInvalidState, app.Number, app.Status)
		}

		inst, err = s.mutator.createInstrument(ctx, st, app.OwnerID, app.Kind, s.openingTerms(app))
		if err != nil {
			return err
		}

		app.Status = domain.AppIssued
		app.InstrumentID = &inst.ID
		return st.SaveApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}

	s.publishIssued(ctx, app, inst)
	return inst, nil
}

func (s *ApplicationService) openingTerms(app *domain.Application) domain.OpeningTerms {
	terms := domain.OpeningTerms{Currency: app.Currency}
	switch app.Kind {
	case domain.KindCreditCard:
		terms.CreditLimit = *app.ApprovedLimit
	case domain.KindLoan:
		terms.CreditLimit = *app.ApprovedLimit
		terms.DrawnAtOpening = true
	default:
		terms.OpeningBalance = app.RequestedAmount
		if app.ApprovedLimit != nil && *app.ApprovedLimit < terms.OpeningBalance {
			terms.OpeningBalance = *app.ApprovedLimit
		}
	}
	return terms
}

// GetApplication retrieves an application by its external number.
func (s *ApplicationService) GetApplication(ctx context.Context, number string) (*domain.Application, error) {
	return s.repo.GetApplicationByNumber(ctx, number)
}

// ListApplicationsByOwner returns all applications submitted by an owner.
func (s *ApplicationService) ListApplicationsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Application, error) {
	return s.repo.ListApplicationsByOwner(ctx, ownerID)
}

// ListApplicationsByStatus returns the reviewer queue for a status.
func (s *ApplicationService) ListApplicationsByStatus(ctx context.Context, status string) ([]domain.Application, error) {
	return s.repo.ListApplicationsByStatus(ctx, status)
}

func (s *ApplicationService) publishReviewed(ctx context.Context, app *domain.Application, reviewerID string) {
	if s.events == nil {
		return
	}
	event := domain.ApplicationReviewedEvent{
		ApplicationNumber: app.Number,
		OwnerID:           app.OwnerID,
		Status:            app.Status,
		ReviewerID:        reviewerID,
		Timestamp:         s.now().UTC(),
	}
	if err := s.events.Publish(ctx, eventsExchange, "application.reviewed", event); err != nil {
		log.Printf("level=warn component=app msg=\"application reviewed event publish failed\" application=%s err=%v", app.Number, err)
	}
}

func (s *ApplicationService) publishIssued(ctx context.Context, app *domain.Application, inst *domain.Instrument) {
	if s.events == nil {
		return
	}
	event := domain.InstrumentIssuedEvent{
		ApplicationNumber: app.Number,
		InstrumentNumber:  inst.Number,
		InstrumentID:      inst.ID,
		OwnerID:           inst.OwnerID,
		Kind:              inst.Kind,
		Timestamp:         s.now().UTC(),
	}
	if err := s.events.Publish(ctx, eventsExchange, "instrument.issued", event); err != nil {
		log.Printf("level=warn component=app msg=\"instrument issued event publish failed\" application=%s err=%v", app.Number, err)
	}
}
