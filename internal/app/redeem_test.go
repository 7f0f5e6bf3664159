package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/corebank/instrument-service/internal/domain"
	"github.com/corebank/instrument-service/internal/idgen"
)

type stubLimiter struct {
	count      int
	retryAfter int
	err        error
}

func (s *stubLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return s.count, s.retryAfter, s.err
}

func newGiftCard(t *testing.T, svc *Service, balance int64) *domain.Instrument {
	t.Helper()
	return mustCreate(t, svc, uuid.New(), domain.KindGiftCard, domain.OpeningTerms{OpeningBalance: balance})
}

func TestRedeem_FullBalanceMarksCardRedeemed(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	card := newGiftCard(t, svc, 80_00)

	res, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number})
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if res.Instrument.Balance != 0 {
		t.Fatalf("expected zero balance after full redemption, got %d", res.Instrument.Balance)
	}
	if res.Instrument.Status != domain.StatusRedeemed {
		t.Fatalf("expected status redeemed, got %s", res.Instrument.Status)
	}
	if res.Record.Kind != domain.RecordRedeem || res.Record.Amount != 80_00 {
		t.Fatalf("unexpected redemption record: %+v", res.Record)
	}

	// A redeemed card cannot be redeemed again.
	if _, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second redemption, got %v", err)
	}
}

func TestRedeem_PartialLeavesCardActive(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	card := newGiftCard(t, svc, 80_00)

	amount := int64(30_00)
	res, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number, Amount: &amount})
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if res.Instrument.Balance != 50_00 || res.Instrument.Status != domain.StatusActive {
		t.Fatalf("expected active card with 5000 left, got balance=%d status=%s", res.Instrument.Balance, res.Instrument.Status)
	}
}

func TestRedeem_OverBalanceRecordsDecline(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	card := newGiftCard(t, svc, 25_00)

	amount := int64(25_01)
	_, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number, Amount: &amount})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	stored, _ := repo.GetInstrumentByNumber(context.Background(), card.Number)
	if stored.Balance != 25_00 || stored.Status != domain.StatusActive {
		t.Fatalf("declined redemption must not touch the card: balance=%d status=%s", stored.Balance, stored.Status)
	}
	records := repo.recordsFor(card.Number)
	if len(records) != 1 || records[0].Outcome != domain.OutcomeDeclined {
		t.Fatalf("expected one declined record, got %+v", records)
	}
}

func TestRedeem_DepositsIntoExternalAccount(t *testing.T) {
	repo := newFakeRepo()
	depositor := &stubDepositor{}
	svc := NewService(repo, idgen.New(42), depositor, nil)
	card := newGiftCard(t, svc, 60_00)

	res, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number, AccountNumber: "AC111122223333"})
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if len(depositor.calls) != 1 || depositor.calls[0].AccountNumber != "AC111122223333" || depositor.calls[0].Amount != 60_00 {
		t.Fatalf("unexpected deposit calls: %+v", depositor.calls)
	}
	if res.Record.CounterpartNumber == nil || *res.Record.CounterpartNumber != "AC111122223333" {
		t.Fatalf("expected deposit account as counterpart, got %+v", res.Record.CounterpartNumber)
	}
}

func TestRedeem_DepositFailureRollsBackEverything(t *testing.T) {
	repo := newFakeRepo()
	depositor := &stubDepositor{err: errors.New("connection refused")}
	svc := NewService(repo, idgen.New(42), depositor, nil)
	card := newGiftCard(t, svc, 60_00)

	_, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number, AccountNumber: "AC111122223333"})
	if !errors.Is(err, ErrExternalDeposit) {
		t.Fatalf("expected ErrExternalDeposit, got %v", err)
	}

	stored, _ := repo.GetInstrumentByNumber(context.Background(), card.Number)
	if stored.Balance != 60_00 || stored.Status != domain.StatusActive {
		t.Fatalf("failed deposit must roll back the card: balance=%d status=%s", stored.Balance, stored.Status)
	}
	if records := repo.recordsFor(card.Number); len(records) != 0 {
		t.Fatalf("failed deposit must leave no ledger records, got %+v", records)
	}
}

func TestRedeem_RejectsNonGiftCards(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	acct := mustCreate(t, svc, uuid.New(), domain.KindAccount, domain.OpeningTerms{OpeningBalance: 100_00})

	if _, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: acct.Number}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRedeem_ExpiredCardRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	past := time.Now().Add(-24 * time.Hour)
	card := mustCreate(t, svc, uuid.New(), domain.KindGiftCard, domain.OpeningTerms{OpeningBalance: 40_00, ExpiresAt: &past})

	if _, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for expired card, got %v", err)
	}
}

func TestRedeem_RateLimitEnforced(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	svc.SetRedeemRateLimiter(&stubLimiter{count: 31, retryAfter: 12}, 30)
	card := newGiftCard(t, svc, 40_00)

	if _, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRedeem_RateLimiterFailureFailsOpen(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	svc.SetRedeemRateLimiter(&stubLimiter{err: errors.New("redis down")}, 30)
	card := newGiftCard(t, svc, 40_00)

	if _, err := svc.Redeem(context.Background(), domain.RedeemRequest{CardNumber: card.Number}); err != nil {
		t.Fatalf("limiter failure must not block redemption, got %v", err)
	}
}
