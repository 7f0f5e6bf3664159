/**
 * @description
 * Gift card redemption. Redeeming draws down the card balance (fully, when no
 * amount is given) and optionally deposits the redeemed value into an external
 * core banking account through the deposit collaborator.
 *
 * The remote deposit happens inside the redemption transaction, before the
 * local mutation commits: a remote failure rolls the whole unit back, so the
 * ledger never shows a successful redemption whose deposit was lost.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/corebank/instrument-service/internal/domain"
	"github.com/corebank/instrument-service/internal/store"
)

// Redeem draws down a gift card and, when an account number is supplied,
// deposits the redeemed amount there via the external collaborator.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemRequest) (*domain.MutationResult, error) {
	if err := s.consumeRedeemBudget(ctx, req.CardNumber); err != nil {
		return nil, err
	}

	var res domain.MutationResult
	var declined bool
	err := s.repo.InTx(ctx, func(st store.Store) error {
		card, err := st.GetInstrumentByNumberForUpdate(ctx, req.CardNumber)
		if err != nil {
			return err
		}
		if card.Kind != domain.KindGiftCard {
			return fmt.Errorf("%w: %s is not a gift card", ErrValidation, card.Number)
		}
		if card.Status != domain.StatusActive {
			return fmt.Errorf("%w: gift card %s is %s", ErrInvalidState, card.Number, card.Status)
		}
		if card.Expired(s.now()) {
			return fmt.Errorf("%w: gift card %s has expired", ErrInvalidState, card.Number)
		}

		// No amount means the full remaining balance.
		amount := card.Balance
		if req.Amount != nil {
			amount = *req.Amount
		}
		if amount <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrValidation)
		}

		var counterpart *string
		if req.AccountNumber != "" {
			counterpart = &req.AccountNumber
		}

		if amount > card.Balance {
			rec, err := s.appendRecord(ctx, st, card.Number, counterpart, domain.RecordRedeem, domain.OutcomeDeclined, amount, req.Description)
			if err != nil {
				return err
			}
			res = domain.MutationResult{Instrument: card, Record: rec}
			declined = true
			return nil
		}

		if req.AccountNumber != "" {
			if s.depositor == nil {
				return fmt.Errorf("%w: deposit collaborator not configured", ErrExternalDeposit)
			}
			description := req.Description
			if description == "" {
				description = "Gift card redemption from " + card.Number
			}
			if err := s.depositor.Deposit(ctx, req.AccountNumber, amount, description); err != nil {
				return fmt.Errorf("%w: %v", ErrExternalDeposit, err)
			}
		}

		card.Balance -= amount
		if card.Balance == 0 {
			card.Status = domain.StatusRedeemed
		}
		if err := st.SaveInstrument(ctx, card); err != nil {
			return fmt.Errorf("failed to save gift card: %w", err)
		}
		rec, err := s.appendRecord(ctx, st, card.Number, counterpart, domain.RecordRedeem, domain.OutcomeCompleted, amount, req.Description)
		if err != nil {
			return err
		}
		res = domain.MutationResult{Instrument: card, Record: rec}
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

// consumeRedeemBudget applies the per-card redemption rate limit. Limiter
// errors fail open: redemption availability beats throttling accuracy.
func (s *Service) consumeRedeemBudget(ctx context.Context, cardNumber string) error {
	if s.limiter == nil || s.redeemLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "redeem", cardNumber, s.redeemLimitPerMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=app msg=\"redeem rate limiter unavailable; allowing request\" card=%s err=%v", cardNumber, err)
		return nil
	}
	if count > s.redeemLimitPerMinute {
		return fmt.Errorf("%w: retry in %ds", ErrRateLimited, retryAfter)
	}
	return nil
}
