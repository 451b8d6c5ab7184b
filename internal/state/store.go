// Package state implements the core's state surface: read/write access
// to loans and alerts, with no assumption of ordering or persistence
// placed on it by the rest of the system. Store is implemented both
// in-memory (MemStore, below) and atop Postgres (PGStore, see
// pgstore.go) behind the same interface.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"btc-loan-sentinel/internal/model"
)

// nowFunc supplies TriggeredAt; tests may override it for a deterministic value.
var nowFunc = time.Now

// loanValidator checks the struct tags on model.Loan plus the
// liquidation-above-margin-call invariant, which can't be expressed as
// a plain field tag because decimal.Decimal isn't a comparable numeric
// kind validator's gtfield understands.
var loanValidator = validator.New(validator.WithRequiredStructEnabled())

func init() {
	loanValidator.RegisterStructValidation(validateLoanStruct, model.Loan{})
}

func validateLoanStruct(sl validator.StructLevel) {
	loan := sl.Current().Interface().(model.Loan)
	if !loan.LiquidationLTV.GreaterThan(loan.MarginCallLTV) {
		sl.ReportError(loan.LiquidationLTV, "LiquidationLTV", "LiquidationLTV", "gtfield_margin_call_ltv", "")
	}
}

func validateLoan(loan model.Loan) error {
	if err := loanValidator.Struct(loan); err != nil {
		return fmt.Errorf("validate loan: %w", err)
	}
	return nil
}

// Store is the full set of operations the core needs from the state
// surface.
type Store interface {
	GetLoan(ctx context.Context, token string) (model.Loan, bool, error)
	GetAllLoans(ctx context.Context) ([]model.Loan, error)
	PutLoan(ctx context.Context, loan model.Loan) error

	GetAllPriceAlerts(ctx context.Context) ([]model.PriceAlert, error)
	GetAllLTVAlerts(ctx context.Context) ([]model.LtvAlert, error)
	PutPriceAlert(ctx context.Context, alert model.PriceAlert) error
	PutLTVAlert(ctx context.Context, alert model.LtvAlert) error
	TriggerPriceAlert(ctx context.Context, alertID string) error
	TriggerLTVAlert(ctx context.Context, alertID string) error

	SetLastPrice(ctx context.Context, update model.PriceUpdate) error
	GetLastPrice(ctx context.Context) (model.PriceUpdate, bool, error)
}

// MemStore is an in-memory Store guarded by a single mutex: every read
// and mutation takes the same lock, so callers never observe a torn
// update.
type MemStore struct {
	mu sync.RWMutex

	loans       map[string]model.Loan
	priceAlerts map[string]model.PriceAlert
	ltvAlerts   map[string]model.LtvAlert

	hasLastPrice bool
	lastPrice    model.PriceUpdate
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		loans:       make(map[string]model.Loan),
		priceAlerts: make(map[string]model.PriceAlert),
		ltvAlerts:   make(map[string]model.LtvAlert),
	}
}

func (s *MemStore) GetLoan(_ context.Context, token string) (model.Loan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loan, ok := s.loans[token]
	return loan, ok, nil
}

func (s *MemStore) GetAllLoans(_ context.Context) ([]model.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Loan, 0, len(s.loans))
	for _, l := range s.loans {
		out = append(out, l)
	}
	return out, nil
}

func (s *MemStore) PutLoan(_ context.Context, loan model.Loan) error {
	if err := validateLoan(loan); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[loan.Token] = loan
	return nil
}

func (s *MemStore) GetAllPriceAlerts(_ context.Context) ([]model.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.PriceAlert, 0, len(s.priceAlerts))
	for _, a := range s.priceAlerts {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemStore) GetAllLTVAlerts(_ context.Context) ([]model.LtvAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LtvAlert, 0, len(s.ltvAlerts))
	for _, a := range s.ltvAlerts {
		out = append(out, a)
	}
	return out, nil
}

func (s *MemStore) PutPriceAlert(_ context.Context, alert model.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceAlerts[alert.AlertID] = alert
	return nil
}

func (s *MemStore) PutLTVAlert(_ context.Context, alert model.LtvAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ltvAlerts[alert.AlertID] = alert
	return nil
}

func (s *MemStore) TriggerPriceAlert(_ context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.priceAlerts[alertID]
	if !ok {
		return nil
	}
	a.Triggered = true
	a.TriggeredAt = nowFunc()
	s.priceAlerts[alertID] = a
	return nil
}

func (s *MemStore) TriggerLTVAlert(_ context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ltvAlerts[alertID]
	if !ok {
		return nil
	}
	a.Triggered = true
	a.TriggeredAt = nowFunc()
	s.ltvAlerts[alertID] = a
	return nil
}

func (s *MemStore) SetLastPrice(_ context.Context, update model.PriceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice = update
	s.hasLastPrice = true
	return nil
}

func (s *MemStore) GetLastPrice(_ context.Context) (model.PriceUpdate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPrice, s.hasLastPrice, nil
}
