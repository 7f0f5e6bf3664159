/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL queries against the `instruments`,
 * `transaction_records` and `applications` tables.
 *
 * The same struct serves both roles of the interface: bound to a pgxpool it
 * is the pool-level repository, bound to a pgx.Tx (via InTx) it is the
 * transaction-scoped store. Row locks are taken with SELECT ... FOR UPDATE so
 * check-then-mutate sequences are serialized per row.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/corebank/instrument-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx behaviour shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db   querier
	pool *pgxpool.Pool // nil when bound to a transaction
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool, pool: pool}
}

// InTx opens a database transaction and runs fn against a Store bound to it.
// A nested call from inside a transaction scope reuses the open transaction.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(Store) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresRepository{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const instrumentColumns = `id, number, owner_id, kind, currency, balance, credit_limit, outstanding, status, expires_at, created_at, updated_at`

func scanInstrument(row pgx.Row) (*domain.Instrument, error) {
	var inst domain.Instrument
	err := row.Scan(
		&inst.ID, &inst.Number, &inst.OwnerID, &inst.Kind, &inst.Currency,
		&inst.Balance, &inst.CreditLimit, &inst.Outstanding, &inst.Status,
		&inst.ExpiresAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstrumentNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// GetInstrumentByID retrieves an instrument by its internal id.
func (r *PostgresRepository) GetInstrumentByID(ctx context.Context, id uuid.UUID) (*domain.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE id = $1`
	return scanInstrument(r.db.QueryRow(ctx, query, id))
}

// GetInstrumentByNumber retrieves an instrument by its external number.
func (r *PostgresRepository) GetInstrumentByNumber(ctx context.Context, number string) (*domain.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE number = $1`
	return scanInstrument(r.db.QueryRow(ctx, query, number))
}

// GetInstrumentByNumberForUpdate retrieves an instrument and locks its row
// until the surrounding transaction ends.
func (r *PostgresRepository) GetInstrumentByNumberForUpdate(ctx context.Context, number string) (*domain.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE number = $1 FOR UPDATE`
	return scanInstrument(r.db.QueryRow(ctx, query, number))
}

// InstrumentNumberExists reports whether an external number is already taken.
func (r *PostgresRepository) InstrumentNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM instruments WHERE number = $1)`, number).Scan(&exists)
	return exists, err
}

// CreateInstrument inserts a new instrument row.
func (r *PostgresRepository) CreateInstrument(ctx context.Context, inst *domain.Instrument) error {
	query := `
		INSERT INTO instruments (id, number, owner_id, kind, currency, balance, credit_limit, outstanding, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		inst.ID, inst.Number, inst.OwnerID, inst.Kind, inst.Currency,
		inst.Balance, inst.CreditLimit, inst.Outstanding, inst.Status, inst.ExpiresAt,
	).Scan(&inst.CreatedAt, &inst.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	return err
}

// SaveInstrument persists the mutable fields of an existing instrument.
// Number, owner and kind are immutable and deliberately not written.
func (r *PostgresRepository) SaveInstrument(ctx context.Context, inst *domain.Instrument) error {
	query := `
		UPDATE instruments
		SET balance = $2, credit_limit = $3, outstanding = $4, status = $5, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, inst.ID, inst.Balance, inst.CreditLimit, inst.Outstanding, inst.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInstrumentNotFound
	}
	return nil
}

// ListInstrumentsByOwner returns all instruments held by an owner.
func (r *PostgresRepository) ListInstrumentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Instrument, error) {
	query := `SELECT ` + instrumentColumns + ` FROM instruments WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		var inst domain.Instrument
		if err := rows.Scan(
			&inst.ID, &inst.Number, &inst.OwnerID, &inst.Kind, &inst.Currency,
			&inst.Balance, &inst.CreditLimit, &inst.Outstanding, &inst.Status,
			&inst.ExpiresAt, &inst.CreatedAt, &inst.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// CreateTransactionRecord appends one immutable ledger record.
func (r *PostgresRepository) CreateTransactionRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	query := `
		INSERT INTO transaction_records (id, reference, instrument_number, counterpart_number, kind, outcome, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.Reference, rec.InstrumentNumber, rec.CounterpartNumber,
		rec.Kind, rec.Outcome, rec.Amount, rec.Description,
	).Scan(&rec.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	return err
}

const recordColumns = `id, reference, instrument_number, counterpart_number, kind, outcome, amount, description, created_at`

// ListTransactionRecords returns the most recent ledger records for an
// instrument, including those where it was the transfer counterpart.
func (r *PostgresRepository) ListTransactionRecords(ctx context.Context, instrumentNumber string, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT ` + recordColumns + `
		FROM transaction_records
		WHERE instrument_number = $1 OR counterpart_number = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, instrumentNumber, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		if err := rows.Scan(
			&rec.ID, &rec.Reference, &rec.InstrumentNumber, &rec.CounterpartNumber,
			&rec.Kind, &rec.Outcome, &rec.Amount, &rec.Description, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetTransactionRecordByReference retrieves a ledger record by its external reference.
func (r *PostgresRepository) GetTransactionRecordByReference(ctx context.Context, reference string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transaction_records WHERE reference = $1`
	var rec domain.TransactionRecord
	err := r.db.QueryRow(ctx, query, reference).Scan(
		&rec.ID, &rec.Reference, &rec.InstrumentNumber, &rec.CounterpartNumber,
		&rec.Kind, &rec.Outcome, &rec.Amount, &rec.Description, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

const applicationColumns = `id, number, owner_id, kind, requested_amount, term_months, currency, purpose,
	monthly_income, employment_years, existing_debt, credit_score, status,
	approved_limit, approved_rate_bps, monthly_installment, rejection_reason,
	reviewed_by, reviewed_at, instrument_id, created_at, updated_at`

func scanApplication(row pgx.Row) (*domain.Application, error) {
	var app domain.Application
	err := row.Scan(
		&app.ID, &app.Number, &app.OwnerID, &app.Kind, &app.RequestedAmount,
		&app.TermMonths, &app.Currency, &app.Purpose,
		&app.MonthlyIncome, &app.EmploymentYears, &app.ExistingDebt,
		&app.CreditScore, &app.Status,
		&app.ApprovedLimit, &app.ApprovedRateBps, &app.MonthlyInstallment, &app.RejectionReason,
		&app.ReviewedBy, &app.ReviewedAt, &app.InstrumentID, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return &app, nil
}

// GetApplicationByNumber retrieves an application by its external number.
func (r *PostgresRepository) GetApplicationByNumber(ctx context.Context, number string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE number = $1`
	return scanApplication(r.db.QueryRow(ctx, query, number))
}

// GetApplicationByNumberForUpdate retrieves an application and locks its row,
// serializing concurrent reviewer and issuance actions.
func (r *PostgresRepository) GetApplicationByNumberForUpdate(ctx context.Context, number string) (*domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE number = $1 FOR UPDATE`
	return scanApplication(r.db.QueryRow(ctx, query, number))
}

// ApplicationNumberExists reports whether an application number is taken.
func (r *PostgresRepository) ApplicationNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM applications WHERE number = $1)`, number).Scan(&exists)
	return exists, err
}

// CreateApplication inserts a new application row.
func (r *PostgresRepository) CreateApplication(ctx context.Context, app *domain.Application) error {
	query := `
		INSERT INTO applications (id, number, owner_id, kind, requested_amount, term_months, currency, purpose,
			monthly_income, employment_years, existing_debt, credit_score, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		app.ID, app.Number, app.OwnerID, app.Kind, app.RequestedAmount, app.TermMonths,
		app.Currency, app.Purpose, app.MonthlyIncome, app.EmploymentYears, app.ExistingDebt,
		app.CreditScore, app.Status,
	).Scan(&app.CreatedAt, &app.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	return err
}

// SaveApplication persists the mutable review/issuance fields of an application.
func (r *PostgresRepository) SaveApplication(ctx context.Context, app *domain.Application) error {
	query := `
		UPDATE applications
		SET status = $2, approved_limit = $3, approved_rate_bps = $4, monthly_installment = $5,
			rejection_reason = $6, reviewed_by = $7, reviewed_at = $8, instrument_id = $9, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, app.ID, app.Status, app.ApprovedLimit, app.ApprovedRateBps,
		app.MonthlyInstallment, app.RejectionReason, app.ReviewedBy, app.ReviewedAt, app.InstrumentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrApplicationNotFound
	}
	return nil
}

// ListApplicationsByOwner returns all applications submitted by an owner.
func (r *PostgresRepository) ListApplicationsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE owner_id = $1 ORDER BY created_at DESC`
	return r.queryApplications(ctx, query, ownerID)
}

// ListApplicationsByStatus returns all applications in a given status,
// oldest first so reviewers work the queue in submission order.
func (r *PostgresRepository) ListApplicationsByStatus(ctx context.Context, status string) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE status = $1 ORDER BY created_at ASC`
	return r.queryApplications(ctx, query, status)
}

func (r *PostgresRepository) queryApplications(ctx context.Context, query string, arg any) ([]domain.Application, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Application
	for rows.Next() {
		var app domain.Application
		if err := rows.Scan(
			&app.ID, &app.Number, &app.OwnerID, &app.Kind, &app.RequestedAmount,
			&app.TermMonths, &app.Currency, &app.Purpose,
			&app.MonthlyIncome, &app.EmploymentYears, &app.ExistingDebt,
			&app.CreditScore, &app.Status,
			&app.ApprovedLimit, &app.ApprovedRateBps, &app.MonthlyInstallment, &app.RejectionReason,
			&app.ReviewedBy, &app.ReviewedAt, &app.InstrumentID, &app.CreatedAt, &app.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
