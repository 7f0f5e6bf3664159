/**
 * @description
 * This file defines the core domain models for the instrument-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 * - Interest rates travel as basis points (`int64`, 800 == 8.00%) for the same reason.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Instrument kinds. Credit cards and loans are limit-bearing; accounts and
// gift cards carry a plain balance.
const (
	KindAccount    = "account"
	KindCreditCard = "credit_card"
	KindGiftCard   = "gift_card"
	KindLoan       = "loan"
)

// Instrument statuses.
const (
	StatusActive   = "active"
	StatusBlocked  = "blocked"
	StatusClosed   = "closed"
	StatusRedeemed = "redeemed"
)

// Instrument is the single balance-bearing entity generalizing accounts,
// credit cards, gift cards and loans. It maps to the `instruments` table.
type Instrument struct {
	ID          uuid.UUID  `json:"id"`
	Number      string     `json:"number"` // external number, unique and immutable
	OwnerID     uuid.UUID  `json:"owner_id"`
	Kind        string     `json:"kind"`
	Currency    string     `json:"currency"`
	Balance     int64      `json:"balance"`      // in cents; plain instruments
	CreditLimit int64      `json:"credit_limit"` // in cents; limit-bearing instruments
	Outstanding int64      `json:"outstanding"`  // in cents; limit-bearing instruments
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // gift cards
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LimitBearing reports whether the instrument tracks a limit/outstanding pair
// instead of a plain balance.
func (i *Instrument) LimitBearing() bool {
	return i.Kind == KindCreditCard || i.Kind == KindLoan
}

// Available returns the amount a debit may draw: the balance for plain
// instruments, limit minus outstanding for limit-bearing ones.
func (i *Instrument) Available() int64 {
	if i.LimitBearing() {
		return i.CreditLimit - i.Outstanding
	}
	return i.Balance
}

// Expired reports whether the instrument carries an expiry date in the past.
func (i *Instrument) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && i.ExpiresAt.Before(now)
}

// Transaction record kinds.
const (
	RecordDeposit  = "deposit"
	RecordWithdraw = "withdraw"
	RecordPurchase = "purchase"
	RecordPayment  = "payment"
	RecordRedeem   = "redeem"
	RecordTransfer = "transfer"
)

// Transaction record outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeDeclined  = "declined"
	OutcomePending   = "pending"
)

// TransactionRecord is the immutable ledger entry describing one attempted
// balance mutation. Rows are insert-only: never updated, never deleted.
type TransactionRecord struct {
	ID                uuid.UUID `json:"id"`
	Reference         string    `json:"reference"` // external TX number
	InstrumentNumber  string    `json:"instrument_number"`
	CounterpartNumber *string   `json:"counterpart_number,omitempty"` // transfers and redemption deposits
	Kind              string    `json:"kind"`
	Outcome           string    `json:"outcome"`
	Amount            int64     `json:"amount"` // in cents, strictly positive
	Description       string    `json:"description"`
	CreatedAt         time.Time `json:"created_at"`
}

// OpeningTerms carries the initial balance or limit for a new instrument.
type OpeningTerms struct {
	Currency       string     `json:"currency"`
	OpeningBalance int64      `json:"opening_balance"` // plain instruments, in cents
	CreditLimit    int64      `json:"credit_limit"`    // limit-bearing instruments, in cents
	DrawnAtOpening bool       `json:"drawn_at_opening"` // loans: outstanding starts at the full limit
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// MutationResult is what the balance mutator hands back to callers: the
// post-mutation snapshot and the ledger record for the attempted operation.
type MutationResult struct {
	Instrument *Instrument        `json:"instrument"`
	Record     *TransactionRecord `json:"record"`
}

// TransferResult carries both post-transfer snapshots and the ledger record.
type TransferResult struct {
	Source      *Instrument        `json:"source"`
	Destination *Instrument        `json:"destination"`
	Record      *TransactionRecord `json:"record"`
}

// MutationRequest is the DTO for deposit/withdraw/purchase/payment requests.
type MutationRequest struct {
	InstrumentNumber string `json:"instrument_number"`
	Amount           int64  `json:"amount"` // in cents
	Description      string `json:"description"`
}

// TransferRequest is the DTO for transfer requests between two instruments.
type TransferRequest struct {
	FromNumber  string `json:"from_number"`
	ToNumber    string `json:"to_number"`
	Amount      int64  `json:"amount"` // in cents
	Description string `json:"description"`
}

// RedeemRequest is the DTO for gift card redemption. A nil Amount redeems the
// full remaining balance. AccountNumber, when set, names the external core
// banking account the redeemed value is deposited into.
type RedeemRequest struct {
	CardNumber    string `json:"card_number"`
	Amount        *int64 `json:"amount,omitempty"` // in cents
	AccountNumber string `json:"account_number,omitempty"`
	Description   string `json:"description"`
}
