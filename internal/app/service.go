/**
 * @description
 * This file contains the balance mutator, the core engine of the
 * instrument-service. The `Service` struct owns every balance mutation:
 * it loads the instrument inside a transaction scope, checks the invariants,
 * applies the change and appends the ledger record, so the mutation and its
 * record commit as one unit.
 *
 * Key invariants enforced here:
 * - balances never go negative; outstanding + available == limit for
 *   limit-bearing instruments.
 * - a debit of exactly the available amount is legal and leaves available at 0.
 * - transfers conserve the combined balance and lock both rows in
 *   lexicographic number order to prevent deadlock.
 * - insufficient-funds debits commit a DECLINED record (uniform policy across
 *   every instrument kind) and surface ErrInsufficientFunds.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For record ids.
 * - internal/domain, internal/store, internal/idgen: Domain models, data access,
 *   external number generation.
 * - pkg/rabbitmq: Event publication after commit.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/corebank/instrument-service/internal/domain"
	"github.com/corebank/instrument-service/internal/idgen"
	"github.com/corebank/instrument-service/internal/store"
	"github.com/corebank/instrument-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

var (
	ErrValidation        = errors.New("validation failure")
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyIssued     = errors.New("application already issued")
	ErrExternalDeposit   = errors.New("external deposit failed")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

const eventsExchange = "corebank.events"

// DepositClient is the external "deposit to account" collaborator invoked
// during gift card redemption.
type DepositClient interface {
	Deposit(ctx context.Context, accountNumber string, amount int64, description string) error
}

// RateLimiter throttles hot endpoints; zero-value configuration disables it.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core balance mutation logic.
type Service struct {
	repo      store.Repository
	ids       *idgen.Generator
	depositor DepositClient
	events    rabbitmq.Publisher

	limiter              RateLimiter
	redeemLimitPerMinute int

	now func() time.Time
}

// NewService creates a new balance mutator instance.
func NewService(repo store.Repository, ids *idgen.Generator, depositor DepositClient, events rabbitmq.Publisher) *Service {
	return &Service{
		repo:      repo,
		ids:       ids,
		depositor: depositor,
		events:    events,
		now:       time.Now,
	}
}

// SetRedeemRateLimiter enables distributed rate limiting of redemption
// attempts per card. A nil limiter or non-positive limit disables it.
func (s *Service) SetRedeemRateLimiter(limiter RateLimiter, perMinute int) {
	s.limiter = limiter
	s.redeemLimitPerMinute = perMinute
}

// CreateInstrument materializes a new instrument with an assigned external
// number, opening balance/limit and active status, and returns its snapshot.
func (s *Service) CreateInstrument(ctx context.Context, ownerID uuid.UUID, kind string, terms domain.OpeningTerms) (*domain.Instrument, error) {
	var inst *domain.Instrument
	err := s.repo.InTx(ctx, func(st store.Store) error {
		var err error
		inst, err = s.createInstrument(ctx, st, ownerID, kind, terms)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// createInstrument is the creation path shared with the application workflow,
// which calls it inside its own transaction scope.
func (s *Service) createInstrument(ctx context.Context, st store.Store, ownerID uuid.UUID, kind string, terms domain.OpeningTerms) (*domain.Instrument, error) {
	prefix, err := numberPrefix(kind)
	if err != nil {
		return nil, err
	}

	inst := &domain.Instrument{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      kind,
		Currency:  terms.Currency,
		Status:    domain.StatusActive,
		ExpiresAt: terms.ExpiresAt,
	}
	if inst.Currency == "" {
		inst.Currency = "USD"
	}

	switch kind {
	case domain.KindAccount, domain.KindGiftCard:
		if terms.OpeningBalance < 0 {
			return nil, fmt.Errorf("%w: opening balance must not be negative", ErrValidation)
		}
		if kind == domain.KindGiftCard && terms.OpeningBalance == 0 {
			return nil, fmt.Errorf("%w: gift card requires a positive opening balance", ErrValidation)
		}
		inst.Balance = terms.OpeningBalance
	case domain.KindCreditCard, domain.KindLoan:
		if terms.CreditLimit <= 0 {
			return nil, fmt.Errorf("%w: credit limit must be positive", ErrValidation)
		}
		inst.CreditLimit = terms.CreditLimit
		if terms.DrawnAtOpening {
			// Loans disburse the full principal up front.
			inst.Outstanding = terms.CreditLimit
		}
	}

	number, err := s.ids.Unique(ctx, prefix, idgen.InstrumentDigits, st.InstrumentNumberExists)
	if err != nil {
		return nil, fmt.Errorf("failed to assign instrument number: %w", err)
	}
	inst.Number = number

	if err := st.CreateInstrument(ctx, inst); err != nil {
		return nil, fmt.Errorf("failed to create instrument: %w", err)
	}
	return inst, nil
}

func numberPrefix(kind string) (string, error) {
	switch kind {
	case domain.KindAccount:
		return idgen.PrefixAccount, nil
	case domain.KindCreditCard:
		return idgen.PrefixCreditCard, nil
	case domain.KindGiftCard:
		return idgen.PrefixGiftCard, nil
	case domain.KindLoan:
		return idgen.PrefixLoan, nil
	default:
		return "", fmt.Errorf("%w: unknown instrument kind %q", ErrValidation, kind)
	}
}

// Deposit credits a plain instrument.
func (s *Service) Deposit(ctx context.Context, req domain.MutationRequest) (*domain.MutationResult, error) {
	return s.applyCredit(ctx, req.InstrumentNumber, req.Amount, req.Description, domain.RecordDeposit)
}

// Payment credits a limit-bearing instrument, reducing its outstanding amount.
func (s *Service) Payment(ctx context.Context, req domain.MutationRequest) (*domain.MutationResult, error) {
	return s.applyCredit(ctx, req.InstrumentNumber, req.Amount, req.Description, domain.RecordPayment)
}

// Credit routes to deposit or payment semantics based on the instrument kind.
func (s *Service) Credit(ctx context.Context, number string, amount int64, description string) (*domain.MutationResult, error) {
	return s.applyCredit(ctx, number, amount, description, "")
}

// Withdraw debits a plain instrument.
func (s *Service) Withdraw(ctx context.Context, req domain.MutationRequest) (*domain.MutationResult, error) {
	return s.applyDebit(ctx, req.InstrumentNumber, req.Amount, req.Description, domain.RecordWithdraw)
}

// Purchase debits a limit-bearing instrument, drawing against its limit.
func (s *Service) Purchase(ctx context.Context, req domain.MutationRequest) (*domain.MutationResult, error) {
	return s.applyDebit(ctx, req.InstrumentNumber, req.Amount, req.Description, domain.RecordPurchase)
}

// Debit routes to withdraw or purchase semantics based on the instrument kind.
func (s *Service) Debit(ctx context.Context, number string, amount int64, description string) (*domain.MutationResult, error) {
	return s.applyDebit(ctx, number, amount, description, "")
}

func (s *Service) applyCredit(ctx context.Context, number string, amount int64, description, recordKind string) (*domain.MutationResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var res domain.MutationResult
	err := s.repo.InTx(ctx, func(st store.Store) error {
		inst, err := st.GetInstrumentByNumberForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if inst.Status != domain.StatusActive {
			return fmt.Errorf("%w: instrument %s is %s", ErrInvalidState, inst.Number, inst.Status)
		}
		if inst.Expired(s.now()) {
			return fmt.Errorf("%w: instrument %s has expired", ErrInvalidState, inst.Number)
		}

		kind := recordKind
		if kind == "" {
			if inst.LimitBearing() {
				kind = domain.RecordPayment
			} else {
				kind = domain.RecordDeposit
			}
		}

		switch kind {
		case domain.RecordDeposit:
			if inst.LimitBearing() {
				return fmt.Errorf("%w: deposits apply to balance instruments only", ErrValidation)
			}
			inst.Balance += amount
		case domain.RecordPayment:
			if !inst.LimitBearing() {
				return fmt.Errorf("%w: payments apply to credit instruments only", ErrValidation)
			}
			if amount > inst.Outstanding {
				return fmt.Errorf("%w: payment exceeds outstanding balance", ErrValidation)
			}
			inst.Outstanding -= amount
			// A fully repaid loan is done; a credit card stays open.
			if inst.Kind == domain.KindLoan && inst.Outstanding == 0 {
				inst.Status = domain.StatusClosed
			}
		default:
			return fmt.Errorf("%w: unsupported credit kind %q", ErrValidation, kind)
		}

		if err := st.SaveInstrument(ctx, inst); err != nil {
			return fmt.Errorf("failed to save instrument: %w", err)
		}
		rec, err := s.appendRecord(ctx, st, inst.Number, nil, kind, domain.OutcomeCompleted, amount, description)
		if err != nil {
			return err
		}
		res = domain.MutationResult{Instrument: inst, Record: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishRecord(ctx, res.Record)
	return &res, nil
}

func (s *Service) applyDebit(ctx context.Context, number string, amount int64, description, recordKind string) (*domain.MutationResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var res domain.MutationResult
	var declined bool
	err := s.repo.InTx(ctx, func(st store.Store) error {
		inst, err := st.GetInstrumentByNumberForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if inst.Status != domain.StatusActive {
			return fmt.Errorf("%w: instrument %s is %s", ErrInvalidState, inst.Number, inst.Status)
		}
		if inst.Expired(s.now()) {
			return fmt.Errorf("%w: instrument %s has expired", ErrInvalidState, inst.Number)
		}

		kind := recordKind
		if kind == "" {
			if inst.LimitBearing() {
				kind = domain.RecordPurchase
			} else {
				kind = domain.RecordWithdraw
			}
		}
		switch kind {
		case domain.RecordPurchase:
			if !inst.LimitBearing() {
				return fmt.Errorf("%w: purchases apply to credit instruments only", ErrValidation)
			}
		case domain.RecordWithdraw:
			if inst.LimitBearing() {
				return fmt.Errorf("%w: withdrawals apply to balance instruments only", ErrValidation)
			}
		default:
			return fmt.Errorf("%w: unsupported debit kind %q", ErrValidation, kind)
		}

		if amount > inst.Available() {
			// The attempt is still recorded; balances stay untouched.
			rec, err := s.appendRecord(ctx, st, inst.Number, nil, kind, domain.OutcomeDeclined, amount, description)
			if err != nil {
				return err
			}
			res = domain.MutationResult{Instrument: inst, Record: rec}
			declined = true
			return nil
		}

		if inst.LimitBearing() {
			inst.Outstanding += amount
		} else {
			inst.Balance -= amount
			// A fully spent gift card is terminal regardless of how the
			// last cent left it.
			if inst.Kind == domain.KindGiftCard && inst.Balance == 0 {
				inst.Status = domain.StatusRedeemed
			}
		}

		if err := st.SaveInstrument(ctx, inst); err != nil {
			return fmt.Errorf("failed to save instrument: %w", err)
		}
		rec, err := s.appendRecord(ctx, st, inst.Number, nil, kind, domain.OutcomeCompleted, amount, description)
		if err != nil {
			return err
		}
		res = domain.MutationResult{Instrument: inst, Record: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishRecord(ctx, res.Record)
	if declined {
		return &res, ErrInsufficientFunds
	}
	return &res, nil
}

// Transfer atomically moves amount between two plain instruments. Both rows
// are locked in lexicographic number order; if the debit leg fails nothing is
// applied and no partial state becomes visible.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if req.FromNumber == req.ToNumber {
		return nil, fmt.Errorf("%w: source and destination must differ", ErrValidation)
	}

	var res domain.TransferResult
	var declined bool
	err := s.repo.InTx(ctx, func(st store.Store) error {
		first, second := req.FromNumber, req.ToNumber
		if second < first {
			first, second = second, first
		}

		firstInst, err := st.GetInstrumentByNumberForUpdate(ctx, first)
		if err != nil {
			return err
		}
		secondInst, err := st.GetInstrumentByNumberForUpdate(ctx, second)
		if err != nil {
			return err
		}

		src, dst := firstInst, secondInst
		if src.Number != req.FromNumber {
			src, dst = secondInst, firstInst
		}

		if src.LimitBearing() || dst.LimitBearing() {
			return fmt.Errorf("%w: transfers apply to balance instruments only", ErrValidation)
		}
		if src.Status != domain.StatusActive {
			return fmt.Errorf("%w: source instrument %s is %s", ErrInvalidState, src.Number, src.Status)
		}
		if dst.Status != domain.StatusActive {
			return fmt.Errorf("%w: destination instrument %s is %s", ErrInvalidState, dst.Number, dst.Status)
		}
		if src.Expired(s.now()) {
			return fmt.Errorf("%w: source instrument %s has expired", ErrInvalidState, src.Number)
		}
		if dst.Expired(s.now()) {
			return fmt.Errorf("%w: destination instrument %s has expired", ErrInvalidState, dst.Number)
		}

		if req.Amount > src.Balance {
			rec, err := s.appendRecord(ctx, st, src.Number, &dst.Number, domain.RecordTransfer, domain.OutcomeDeclined, req.Amount, req.Description)
			if err != nil {
				return err
			}
			res = domain.TransferResult{Source: src, Destination: dst, Record: rec}
			declined = true
			return nil
		}

		src.Balance -= req.Amount
		if src.Kind == domain.KindGiftCard && src.Balance == 0 {
			src.Status = domain.StatusRedeemed
		}
		dst.Balance += req.Amount

		if err := st.SaveInstrument(ctx, src); err != nil {
			return fmt.Errorf("failed to save source instrument: %w", err)
		}
		if err := st.SaveInstrument(ctx, dst); err != nil {
			return fmt.Errorf("failed to save destination instrument: %w", err)
		}
		rec, err := s.appendRecord(ctx, st, src.Number, &dst.Number, domain.RecordTransfer, domain.OutcomeCompleted, req.Amount, req.Description)
		if err != nil {
			return err
		}
		res = domain.TransferResult{Source: src, Destination: dst, Record: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishRecord(ctx, res.Record)
	if declined {
		return &res, ErrInsufficientFunds
	}
	return &res, nil
}

// SetInstrumentBlocked blocks or unblocks an instrument. Closed and redeemed
// instruments are terminal.
func (s *Service) SetInstrumentBlocked(ctx context.Context, number string, blocked bool) (*domain.Instrument, error) {
	var inst *domain.Instrument
	err := s.repo.InTx(ctx, func(st store.Store) error {
		var err error
		inst, err = st.GetInstrumentByNumberForUpdate(ctx, number)
		if err != nil {
			return err
		}
		if inst.Status == domain.StatusClosed || inst.Status == domain.StatusRedeemed {
			return fmt.Errorf("%w: instrument %s is %s", ErrInvalidState, inst.Number, inst.Status)
		}
		if blocked {
			inst.Status = domain.StatusBlocked
		} else {
			inst.Status = domain.StatusActive
		}
		return st.SaveInstrument(ctx, inst)
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// GetInstrument retrieves an instrument snapshot by its external number.
func (s *Service) GetInstrument(ctx context.Context, number string) (*domain.Instrument, error) {
	return s.repo.GetInstrumentByNumber(ctx, number)
}

// ListInstruments returns the instruments held by an owner.
func (s *Service) ListInstruments(ctx context.Context, ownerID uuid.UUID) ([]domain.Instrument, error) {
	return s.repo.ListInstrumentsByOwner(ctx, ownerID)
}

// ListRecords returns the ledger records touching an instrument.
func (s *Service) ListRecords(ctx context.Context, instrumentNumber string, limit int) ([]domain.TransactionRecord, error) {
	return s.repo.ListTransactionRecords(ctx, instrumentNumber, limit)
}

// appendRecord writes one immutable ledger record with a fresh id and a
// collision-checked external reference, inside the caller's transaction.
func (s *Service) appendRecord(ctx context.Context, st store.Store, instrumentNumber string, counterpart *string, kind, outcome string, amount int64, description string) (*domain.TransactionRecord, error) {
	reference, err := s.ids.Unique(ctx, idgen.PrefixTransaction, idgen.ReferenceDigits, func(ctx context.Context, candidate string) (bool, error) {
		_, err := st.GetTransactionRecordByReference(ctx, candidate)
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return true, err
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assign transaction reference: %w", err)
	}

	rec := &domain.TransactionRecord{
		ID:                uuid.New(),
		Reference:         reference,
		InstrumentNumber:  instrumentNumber,
		CounterpartNumber: counterpart,
		Kind:              kind,
		Outcome:           outcome,
		Amount:            amount,
		Description:       description,
	}
	if err := st.CreateTransactionRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to append transaction record: %w", err)
	}
	return rec, nil
}

// publishRecord emits a transaction.recorded event; broker trouble is logged
// and never fails the committed mutation.
func (s *Service) publishRecord(ctx context.Context, rec *domain.TransactionRecord) {
	if s.events == nil || rec == nil {
		return
	}
	event := domain.TransactionRecordedEvent{
		RecordID:         rec.ID,
		Reference:        rec.Reference,
		InstrumentNumber: rec.InstrumentNumber,
		Kind:             rec.Kind,
		Outcome:          rec.Outcome,
		Amount:           rec.Amount,
		Timestamp:        s.now().UTC(),
	}
	if err := s.events.Publish(ctx, eventsExchange, "transaction.recorded", event); err != nil {
		log.Printf("level=warn component=app msg=\"transaction event publish failed\" reference=%s err=%v", rec.Reference, err)
	}
}
