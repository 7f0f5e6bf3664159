package app

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/corebank/instrument-service/internal/domain"
	"github.com/corebank/instrument-service/internal/store"
)

// fakeRepo is an in-memory store.Repository. InTx snapshots the state before
// running the closure and restores it on error, mirroring transaction
// rollback semantics.
type fakeRepo struct {
	instruments  map[string]*domain.Instrument
	applications map[string]*domain.Application
	records      []domain.TransactionRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		instruments:  make(map[string]*domain.Instrument),
		applications: make(map[string]*domain.Application),
	}
}

func (f *fakeRepo) snapshot() *fakeRepo {
	snap := newFakeRepo()
	for k, v := range f.instruments {
		c := *v
		snap.instruments[k] = &c
	}
	for k, v := range f.applications {
		c := *v
		snap.applications[k] = &c
	}
	snap.records = append([]domain.TransactionRecord(nil), f.records...)
	return snap
}

func (f *fakeRepo) restore(snap *fakeRepo) {
	f.instruments = snap.instruments
	f.applications = snap.applications
	f.records = snap.records
}

func (f *fakeRepo) InTx(ctx context.Context, fn func(store.Store) error) error {
	snap := f.snapshot()
	if err := fn(f); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeRepo) GetInstrumentByID(ctx context.Context, id uuid.UUID) (*domain.Instrument, error) {
	for _, inst := range f.instruments {
		if inst.ID == id {
			c := *inst
			return &c, nil
		}
	}
	return nil, store.ErrInstrumentNotFound
}

func (f *fakeRepo) GetInstrumentByNumber(ctx context.Context, number string) (*domain.Instrument, error) {
	inst, ok := f.instruments[number]
	if !ok {
		return nil, store.ErrInstrumentNotFound
	}
	c := *inst
	return &c, nil
}

func (f *fakeRepo) GetInstrumentByNumberForUpdate(ctx context.Context, number string) (*domain.Instrument, error) {
	return f.GetInstrumentByNumber(ctx, number)
}

func (f *fakeRepo) InstrumentNumberExists(ctx context.Context, number string) (bool, error) {
	_, ok := f.instruments[number]
	return ok, nil
}

func (f *fakeRepo) CreateInstrument(ctx context.Context, inst *domain.Instrument) error {
	if _, ok := f.instruments[inst.Number]; ok {
		return store.ErrDuplicateNumber
	}
	c := *inst
	f.instruments[inst.Number] = &c
	return nil
}

func (f *fakeRepo) SaveInstrument(ctx context.Context, inst *domain.Instrument) error {
	if _, ok := f.instruments[inst.Number]; !ok {
		return store.ErrInstrumentNotFound
	}
	c := *inst
	f.instruments[inst.Number] = &c
	return nil
}

func (f *fakeRepo) ListInstrumentsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Instrument, error) {
	var out []domain.Instrument
	for _, inst := range f.instruments {
		if inst.OwnerID == ownerID {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (f *fakeRepo) CreateTransactionRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeRepo) ListTransactionRecords(ctx context.Context, instrumentNumber string, limit int) ([]domain.TransactionRecord, error) {
	var out []domain.TransactionRecord
	for i := len(f.records) - 1; i >= 0; i-- {
		rec := f.records[i]
		if rec.InstrumentNumber == instrumentNumber || (rec.CounterpartNumber != nil && *rec.CounterpartNumber == instrumentNumber) {
			out = append(out, rec)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) GetTransactionRecordByReference(ctx context.Context, reference string) (*domain.TransactionRecord, error) {
	for i := range f.records {
		if f.records[i].Reference == reference {
			c := f.records[i]
			return &c, nil
		}
	}
	return nil, store.ErrRecordNotFound
}

func (f *fakeRepo) GetApplicationByNumber(ctx context.Context, number string) (*domain.Application, error) {
	app, ok := f.applications[number]
	if !ok {
		return nil, store.ErrApplicationNotFound
	}
	c := *app
	return &c, nil
}

func (f *fakeRepo) GetApplicationByNumberForUpdate(ctx context.Context, number string) (*domain.Application, error) {
	return f.GetApplicationByNumber(ctx, number)
}

func (f *fakeRepo) ApplicationNumberExists(ctx context.Context, number string) (bool, error) {
	_, ok := f.applications[number]
	return ok, nil
}

func (f *fakeRepo) CreateApplication(ctx context.Context, app *domain.Application) error {
	if _, ok := f.applications[app.Number]; ok {
		return store.ErrDuplicateNumber
	}
	c := *app
	f.applications[app.Number] = &c
	return nil
}

func (f *fakeRepo) SaveApplication(ctx context.Context, app *domain.Application) error {
	if _, ok := f.applications[app.Number]; !ok {
		return store.ErrApplicationNotFound
	}
	c := *app
	f.applications[app.Number] = &c
	return nil
}

func (f *fakeRepo) ListApplicationsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Application, error) {
	var out []domain.Application
	for _, app := range f.applications {
		if app.OwnerID == ownerID {
			out = append(out, *app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (f *fakeRepo) ListApplicationsByStatus(ctx context.Context, status string) ([]domain.Application, error) {
	var out []domain.Application
	for _, app := range f.applications {
		if app.Status == status {
			out = append(out, *app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// recordsFor filters the committed ledger by instrument number.
func (f *fakeRepo) recordsFor(number string) []domain.TransactionRecord {
	var out []domain.TransactionRecord
	for _, rec := range f.records {
		if rec.InstrumentNumber == number {
			out = append(out, rec)
		}
	}
	return out
}

// stubDepositor is a DepositClient test double.
type stubDepositor struct {
	err   error
	calls []stubDepositCall
}

type stubDepositCall struct {
	AccountNumber string
	Amount        int64
}

func (s *stubDepositor) Deposit(ctx context.Context, accountNumber string, amount int64, description string) error {
	s.calls = append(s.calls, stubDepositCall{AccountNumber: accountNumber, Amount: amount})
	return s.err
}
