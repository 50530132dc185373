package mocked

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases"
)

// In-memory stores backing tests and the standalone sandbox mode. They
// mirror the postgres repositories row for row, including insertion-order
// semantics for latest-wins lookups.

// NoopTransactor satisfies the transactor dependency without a database.
type NoopTransactor struct{}

func (NoopTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// RatesStore keeps exchange rate rows append-only in memory.
type RatesStore struct {
	mu     sync.RWMutex
	nextID int
	rates  []entities.ExchangeRate
}

func NewRatesStore() *RatesStore {
	return &RatesStore{}
}

func (s *RatesStore) InsertRate(_ context.Context, rate *entities.ExchangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rate.ID = s.nextID
	s.rates = append(s.rates, *rate)
	return nil
}

func (s *RatesStore) FindLatestRate(_ context.Context, from, to string) (*entities.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.rates) - 1; i >= 0; i-- {
		if s.rates[i].FromCurrency == from && s.rates[i].ToCurrency == to {
			rate := s.rates[i]
			return &rate, nil
		}
	}
	return nil, nil
}

// RateCount reports how many rows exist for a pair.
func (s *RatesStore) RateCount(from, to string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.rates {
		if r.FromCurrency == from && r.ToCurrency == to {
			count++
		}
	}
	return count
}

// LedgerStore holds transactions with their conversion and fee children.
type LedgerStore struct {
	mu           sync.RWMutex
	transactions map[string]entities.PaymentTransaction
	conversions  map[string][]entities.CurrencyConversion
	fees         map[string][]entities.ManagementTierFee
	nextChildID  int
}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		transactions: make(map[string]entities.PaymentTransaction),
		conversions:  make(map[string][]entities.CurrencyConversion),
		fees:         make(map[string][]entities.ManagementTierFee),
	}
}

func (s *LedgerStore) InsertTransaction(_ context.Context, t *entities.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[t.ID]; exists {
		return fmt.Errorf("transaction %s already exists", t.ID)
	}
	s.transactions[t.ID] = *t
	return nil
}

func (s *LedgerStore) FindTransaction(_ context.Context, id string) (*entities.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, entities.ErrTransactionNotFound)
	}
	return &t, nil
}

func (s *LedgerStore) ListTransactions(_ context.Context, filter usecases.TransactionFilter) ([]entities.PaymentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entities.PaymentTransaction
	for _, t := range s.transactions {
		if filter.ClientID != "" && t.ClientID != filter.ClientID {
			continue
		}
		if filter.SellerID != "" && t.SellerID != filter.SellerID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *LedgerStore) UpdateTransaction(_ context.Context, t *entities.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[t.ID]; !ok {
		return fmt.Errorf("%s: %w", t.ID, entities.ErrTransactionNotFound)
	}
	s.transactions[t.ID] = *t
	return nil
}

func (s *LedgerStore) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[id]; !ok {
		return fmt.Errorf("%s: %w", id, entities.ErrTransactionNotFound)
	}
	delete(s.transactions, id)
	delete(s.conversions, id)
	delete(s.fees, id)
	return nil
}

func (s *LedgerStore) InsertConversion(_ context.Context, c *entities.CurrencyConversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextChildID++
	c.ID = s.nextChildID
	s.conversions[c.TransactionID] = append(s.conversions[c.TransactionID], *c)
	return nil
}

func (s *LedgerStore) FindConversions(_ context.Context, transactionID string) ([]entities.CurrencyConversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entities.CurrencyConversion(nil), s.conversions[transactionID]...), nil
}

func (s *LedgerStore) ActiveConversion(_ context.Context, transactionID string) (*entities.CurrencyConversion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.conversions[transactionID]
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[len(rows)-1]
	return &latest, nil
}

func (s *LedgerStore) InsertFees(_ context.Context, rows []entities.ManagementTierFee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range rows {
		s.nextChildID++
		f.ID = s.nextChildID
		s.fees[f.TransactionID] = append(s.fees[f.TransactionID], f)
	}
	return nil
}

func (s *LedgerStore) FindFees(_ context.Context, transactionID string) ([]entities.ManagementTierFee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entities.ManagementTierFee(nil), s.fees[transactionID]...), nil
}

func (s *LedgerStore) TrailingVolume(_ context.Context, clientID string, window time.Duration) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	volume := decimal.Zero
	for _, t := range s.transactions {
		if t.ClientID != clientID || t.CreatedAt.Before(cutoff) {
			continue
		}
		if t.Status == entities.TransactionFailed || t.Status == entities.TransactionCancelled {
			continue
		}
		volume = volume.Add(t.Amount)
	}
	return volume, nil
}

// StepsStore records workflow step executions.
type StepsStore struct {
	mu     sync.Mutex
	nextID int
	steps  []entities.WorkflowStep
}

func NewStepsStore() *StepsStore {
	return &StepsStore{}
}

func (s *StepsStore) InsertStep(_ context.Context, step *entities.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	step.ID = s.nextID
	s.steps = append(s.steps, *step)
	return nil
}

func (s *StepsStore) ClaimStep(_ context.Context, stepID int) (*entities.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.steps {
		if s.steps[i].ID != stepID {
			continue
		}
		step := &s.steps[i]
		if step.Status != entities.StepPending && step.Status != entities.StepFailed {
			return nil, fmt.Errorf("step %d: %w", stepID, entities.ErrConcurrencyConflict)
		}
		now := time.Now()
		step.Status = entities.StepInProgress
		step.Attempts++
		step.StartedAt = &now
		claimed := *step
		return &claimed, nil
	}
	return nil, fmt.Errorf("step %d: %w", stepID, entities.ErrConcurrencyConflict)
}

func (s *StepsStore) UpdateStep(_ context.Context, step *entities.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.steps {
		if s.steps[i].ID == step.ID {
			s.steps[i] = *step
			return nil
		}
	}
	return fmt.Errorf("step %d not found", step.ID)
}

func (s *StepsStore) FindSteps(_ context.Context, transactionID string) ([]entities.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entities.WorkflowStep
	for _, step := range s.steps {
		if step.TransactionID == transactionID {
			out = append(out, step)
		}
	}
	return out, nil
}

// PayoutsStore keeps seller payout accounts.
type PayoutsStore struct {
	mu       sync.RWMutex
	nextID   int
	accounts []entities.SellerPayoutAccount
}

func NewPayoutsStore() *PayoutsStore {
	return &PayoutsStore{}
}

func (s *PayoutsStore) InsertAccount(_ context.Context, account *entities.SellerPayoutAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	account.ID = s.nextID
	s.accounts = append(s.accounts, *account)
	return nil
}

func (s *PayoutsStore) FindAccounts(_ context.Context, sellerID string) ([]entities.SellerPayoutAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entities.SellerPayoutAccount
	for _, a := range s.accounts {
		if a.SellerID == sellerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *PayoutsStore) ActiveAccounts(_ context.Context, sellerID string) ([]entities.SellerPayoutAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entities.SellerPayoutAccount
	for i := len(s.accounts) - 1; i >= 0; i-- {
		a := s.accounts[i]
		if a.SellerID == sellerID && a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

// SyncStore is the in-memory outbox used by reconciler tests.
type SyncStore struct {
	mu        sync.Mutex
	nextID    int
	state     []entities.StateChange
	resources []entities.ResourceChange
}

func NewSyncStore() *SyncStore {
	return &SyncStore{}
}

func (s *SyncStore) RecordStateChange(_ context.Context, key string, payload any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.state = append(s.state, entities.StateChange{
		ID:        s.nextID,
		Key:       key,
		Payload:   data,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *SyncStore) RecordResourceChange(_ context.Context, key string, payload any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.resources = append(s.resources, entities.ResourceChange{
		ID:        s.nextID,
		Key:       key,
		Payload:   data,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *SyncStore) UnsyncedStateChanges(_ context.Context, limit int) ([]entities.StateChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entities.StateChange
	for _, c := range s.state {
		if c.Synced {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *SyncStore) UnsyncedResourceChanges(_ context.Context, limit int) ([]entities.ResourceChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entities.ResourceChange
	for _, c := range s.resources {
		if c.Synced {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *SyncStore) MarkStateChangesSynced(_ context.Context, ids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.state {
		for _, id := range ids {
			if s.state[i].ID == id {
				s.state[i].Synced = true
			}
		}
	}
	return nil
}

func (s *SyncStore) MarkResourceChangesSynced(_ context.Context, ids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.resources {
		for _, id := range ids {
			if s.resources[i].ID == id {
				s.resources[i].Synced = true
			}
		}
	}
	return nil
}
