/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the instrument-service needs. The interface decouples the business
 * logic from the PostgreSQL implementation and lets tests substitute an
 * in-memory fake.
 *
 * The `InTx` scope is the atomicity boundary every balance mutation and
 * application transition runs under: the closure receives a `Store` bound to
 * a single database transaction, so check-then-mutate sequences and their
 * ledger records commit or roll back as one unit.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/corebank/instrument-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrInstrumentNotFound  = errors.New("instrument not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrDuplicateNumber     = errors.New("external number already exists")
	ErrRecordNotFound      = errors.New("transaction record not found")
)

// Store is the set of data operations available both on the pool and inside
// a transaction scope.
type Store interface {
	// Instruments
	GetInstrumentByID(ctx context.Context, id uuid.UUID) (*domain.Instrument, error)
	GetInstrumentByNumber(ctx context.Context, number string) (*domain.Instrument, error)
	// GetInstrumentByNumberForUpdate locks the row for the remainder of the
	// surrounding transaction. Callers must acquire multi-instrument locks in
	// lexicographic number order.
	GetInstrumentByNumberForUpdate(ctx context.Context, number string) (*domain.Instrument, error)
	InstrumentNumberExists(ctx context.Context, number string) (bool, error)
	CreateInstrument(ctx context.Context, inst *domain.Instrument) error
	SaveInstrument(ctx context.Context, inst *domain.Instrument) error
	ListInstrumentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Instrument, error)

	// Ledger records (insert-only)
	CreateTransactionRecord(ctx context.Context, rec *domain.TransactionRecord) error
	ListTransactionRecords(ctx context.Context, instrumentNumber string, limit int) ([]domain.TransactionRecord, error)
	GetTransactionRecordByReference(ctx context.Context, reference string) (*domain.TransactionRecord, error)

	// Applications
	GetApplicationByNumber(ctx context.Context, number string) (*domain.Application, error)
	GetApplicationByNumberForUpdate(ctx context.Context, number string) (*domain.Application, error)
	ApplicationNumberExists(ctx context.Context, number string) (bool, error)
	CreateApplication(ctx context.Context, app *domain.Application) error
	SaveApplication(ctx context.Context, app *domain.Application) error
	ListApplicationsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Application, error)
	ListApplicationsByStatus(ctx context.Context, status string) ([]domain.Application, error)
}

// Repository is a Store that can also open an atomic transaction scope.
type Repository interface {
	Store

	// InTx runs fn against a Store bound to one database transaction,
	// committing when fn returns nil and rolling back otherwise.
	InTx(ctx context.Context, fn func(Store) error) error
}
