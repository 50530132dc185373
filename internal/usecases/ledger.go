package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/core/ports"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/fees"
)

// clientVolumeWindow is the trailing window aggregated for fee tier lookup.
const clientVolumeWindow = 30 * 24 * time.Hour

// Transactor runs a function within one database transaction scope.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	ClientID string
	SellerID string
	Status   entities.TransactionStatus
	Limit    int
}

// LedgerRepository is the storage owned by the ledger: payment transactions
// and their append-only conversion/fee children.
type LedgerRepository interface {
	InsertTransaction(ctx context.Context, tx *entities.PaymentTransaction) error
	FindTransaction(ctx context.Context, id string) (*entities.PaymentTransaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]entities.PaymentTransaction, error)
	UpdateTransaction(ctx context.Context, tx *entities.PaymentTransaction) error
	DeleteTransaction(ctx context.Context, id string) error
	InsertConversion(ctx context.Context, conversion *entities.CurrencyConversion) error
	FindConversions(ctx context.Context, transactionID string) ([]entities.CurrencyConversion, error)
	ActiveConversion(ctx context.Context, transactionID string) (*entities.CurrencyConversion, error)
	InsertFees(ctx context.Context, rows []entities.ManagementTierFee) error
	FindFees(ctx context.Context, transactionID string) ([]entities.ManagementTierFee, error)
	TrailingVolume(ctx context.Context, clientID string, window time.Duration) (decimal.Decimal, error)
}

// SyncRecorder writes state/resource change rows in the same unit of work as
// the mutation they describe, for the cross-tier reconciler to pick up.
type SyncRecorder interface {
	RecordStateChange(ctx context.Context, key string, payload any) error
	RecordResourceChange(ctx context.Context, key string, payload any) error
}

// validTransitions is the transaction state machine. Terminal states have no
// outgoing edges; cancelled is reachable only from pending.
var validTransitions = map[entities.TransactionStatus][]entities.TransactionStatus{
	entities.TransactionPending:    {entities.TransactionProcessing, entities.TransactionFailed, entities.TransactionCancelled},
	entities.TransactionProcessing: {entities.TransactionCompleted, entities.TransactionFailed},
}

func canTransition(from, to entities.TransactionStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// LedgerService owns payment transactions, their children and the status
// state machine. State transitions for one transaction id are serialized by a
// keyed lock; competing writers are rejected with ErrConcurrencyConflict.
type LedgerService struct {
	logger     *slog.Logger
	repo       LedgerRepository
	sync       SyncRecorder
	policy     *fees.Policy
	transactor Transactor
	notifier   ports.StatusNotifier

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewLedgerService(logger *slog.Logger, repo LedgerRepository, syncRec SyncRecorder, policy *fees.Policy, transactor Transactor) *LedgerService {
	return &LedgerService{
		logger:     logger,
		repo:       repo,
		sync:       syncRec,
		policy:     policy,
		transactor: transactor,
		inFlight:   make(map[string]struct{}),
	}
}

// SetNotifier attaches a status-change notifier (websocket hub). Optional.
func (s *LedgerService) SetNotifier(n ports.StatusNotifier) { s.notifier = n }

// acquire claims the per-transaction transition lock, guaranteeing at most
// one in-flight state mutation per transaction id.
func (s *LedgerService) acquire(id string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[id]; busy {
		return nil, fmt.Errorf("transaction %s: %w", id, entities.ErrConcurrencyConflict)
	}
	s.inFlight[id] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, id)
		s.mu.Unlock()
	}, nil
}

// CreateTransaction validates and ledgers a new transaction in pending state.
// Monetary fields beyond the amount stay zero until the workflow assesses
// them.
func (s *LedgerService) CreateTransaction(ctx context.Context, req entities.PaymentTransaction) (*entities.PaymentTransaction, error) {
	if err := validateNewTransaction(&req); err != nil {
		return nil, err
	}

	now := time.Now()
	tx := &entities.PaymentTransaction{
		ID:               uuid.New().String(),
		ClientID:         req.ClientID,
		SellerID:         req.SellerID,
		Amount:           req.Amount,
		SourceCurrency:   req.SourceCurrency,
		TargetCurrency:   req.TargetCurrency,
		PaymentMethod:    req.PaymentMethod,
		SettlementMethod: req.SettlementMethod,
		Status:           entities.TransactionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		return s.sync.RecordStateChange(ctx, "transaction:"+tx.ID, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	s.logger.Info("Transaction created",
		"tx_id", tx.ID,
		"client_id", tx.ClientID,
		"seller_id", tx.SellerID,
		"amount", tx.Amount.String(),
		"payment_method", tx.PaymentMethod)
	return tx, nil
}

// GetTransaction loads one transaction by id.
func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*entities.PaymentTransaction, error) {
	return s.repo.FindTransaction(ctx, id)
}

// ListTransactions returns transactions matching the filter.
func (s *LedgerService) ListTransactions(ctx context.Context, filter TransactionFilter) ([]entities.PaymentTransaction, error) {
	return s.repo.ListTransactions(ctx, filter)
}

// GetConversions returns the append-only conversion audit trail.
func (s *LedgerService) GetConversions(ctx context.Context, id string) ([]entities.CurrencyConversion, error) {
	return s.repo.FindConversions(ctx, id)
}

// GetFees returns the append-only fee audit trail.
func (s *LedgerService) GetFees(ctx context.Context, id string) ([]entities.ManagementTierFee, error) {
	return s.repo.FindFees(ctx, id)
}

// ClientVolume aggregates the client's trailing-window ledgered volume for
// fee tier lookup.
func (s *LedgerService) ClientVolume(ctx context.Context, clientID string) (decimal.Decimal, error) {
	return s.repo.TrailingVolume(ctx, clientID, clientVolumeWindow)
}

// StartProcessing moves a pending transaction into processing at workflow
// start. Sets no monetary fields.
func (s *LedgerService) StartProcessing(ctx context.Context, id string) (*entities.PaymentTransaction, error) {
	return s.transition(ctx, id, entities.TransactionProcessing, func(tx *entities.PaymentTransaction) error {
		return nil
	})
}

// RecordConversion appends a conversion row and stamps the resolved rate on
// the transaction. Both rows land atomically.
func (s *LedgerService) RecordConversion(ctx context.Context, id string, rate *entities.ExchangeRate, conversionFee decimal.Decimal) (*entities.CurrencyConversion, error) {
	release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.repo.FindTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return nil, &entities.InvalidTransitionError{From: tx.Status, To: tx.Status}
	}

	conversion := &entities.CurrencyConversion{
		TransactionID:   id,
		FromCurrency:    tx.SourceCurrency,
		ToCurrency:      tx.TargetCurrency,
		ExchangeRate:    rate.Rate,
		SourceAmount:    tx.Amount,
		ConvertedAmount: tx.Amount.Mul(rate.Rate),
		ConversionFee:   conversionFee,
		CreatedAt:       time.Now(),
	}

	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertConversion(ctx, conversion); err != nil {
			return err
		}
		tx.ConversionRate = &rate.Rate
		tx.UpdatedAt = time.Now()
		return s.repo.UpdateTransaction(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record conversion: %w", err)
	}

	s.logger.Info("Conversion recorded",
		"tx_id", id,
		"from", conversion.FromCurrency,
		"to", conversion.ToCurrency,
		"rate", conversion.ExchangeRate.String())
	return conversion, nil
}

// ApplyAssessment snapshots assessed fees onto the transaction and appends
// the fee audit rows in one scoped operation.
func (s *LedgerService) ApplyAssessment(ctx context.Context, id string, assessment fees.Assessment) (*entities.PaymentTransaction, error) {
	release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.repo.FindTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return nil, &entities.InvalidTransitionError{From: tx.Status, To: tx.Status}
	}

	tx.UexBuyerFee = assessment.UexBuyerFee
	tx.UexSellerFee = assessment.UexSellerFee
	tx.ManagementFee = assessment.ManagementFee
	tx.ConversionFee = assessment.ConversionFee
	tx.TotalAmount = assessment.TotalAmount
	tx.UpdatedAt = time.Now()

	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		rows := assessment.FeeRows(id, tx.SourceCurrency)
		if len(rows) > 0 {
			if err := s.repo.InsertFees(ctx, rows); err != nil {
				return err
			}
		}
		return s.sync.RecordStateChange(ctx, "transaction:"+id, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply fee assessment: %w", err)
	}

	s.logger.Info("Fees assessed",
		"tx_id", id,
		"tier", assessment.Tier.Name,
		"buyer_fee", assessment.UexBuyerFee.String(),
		"management_fee", assessment.ManagementFee.String(),
		"total", assessment.TotalAmount.String())
	return tx, nil
}

// Complete drives a processing transaction to completed. Requires a
// consistent active conversion and a reconciled total amount.
func (s *LedgerService) Complete(ctx context.Context, id string, txHash, bankRef *string) (*entities.PaymentTransaction, error) {
	return s.transition(ctx, id, entities.TransactionCompleted, func(tx *entities.PaymentTransaction) error {
		if err := s.checkCompletionInvariants(ctx, tx); err != nil {
			return err
		}
		now := time.Now()
		tx.CompletedAt = &now
		if txHash != nil {
			tx.TransactionHash = txHash
		}
		if bankRef != nil {
			tx.BankReference = bankRef
		}
		return nil
	})
}

// Fail drives a transaction to failed. The reason is mandatory and becomes
// the user-visible failure text.
func (s *LedgerService) Fail(ctx context.Context, id, reason string) (*entities.PaymentTransaction, error) {
	if reason == "" {
		return nil, entities.NewValidationError("failure_reason", "must not be empty")
	}
	return s.transition(ctx, id, entities.TransactionFailed, func(tx *entities.PaymentTransaction) error {
		tx.FailureReason = &reason
		return nil
	})
}

// Cancel cancels a transaction that has not started processing. In-flight
// work must resolve to completed or failed instead.
func (s *LedgerService) Cancel(ctx context.Context, id string) (*entities.PaymentTransaction, error) {
	return s.transition(ctx, id, entities.TransactionCancelled, func(tx *entities.PaymentTransaction) error {
		return nil
	})
}

// UpdateStatus drives the state machine from an external caller (manual
// override endpoint). Metadata may carry failure_reason, transaction_hash and
// bank_reference.
func (s *LedgerService) UpdateStatus(ctx context.Context, id string, status entities.TransactionStatus, metadata map[string]any) (*entities.PaymentTransaction, error) {
	switch status {
	case entities.TransactionProcessing:
		return s.StartProcessing(ctx, id)
	case entities.TransactionCompleted:
		return s.Complete(ctx, id, stringField(metadata, "transaction_hash"), stringField(metadata, "bank_reference"))
	case entities.TransactionFailed:
		reason := ""
		if v := stringField(metadata, "failure_reason"); v != nil {
			reason = *v
		}
		return s.Fail(ctx, id, reason)
	case entities.TransactionCancelled:
		return s.Cancel(ctx, id)
	default:
		return nil, entities.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
}

// Delete removes a transaction together with its conversion, fee and step
// children in one scoped operation.
func (s *LedgerService) Delete(ctx context.Context, id string) error {
	release, err := s.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	return s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.repo.DeleteTransaction(ctx, id)
	})
}

// transition applies one state-machine move under the per-id lock. mutate
// runs after transition validation and may reject the move.
func (s *LedgerService) transition(ctx context.Context, id string, to entities.TransactionStatus, mutate func(*entities.PaymentTransaction) error) (*entities.PaymentTransaction, error) {
	release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := s.repo.FindTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if !canTransition(tx.Status, to) {
		return nil, &entities.InvalidTransitionError{From: tx.Status, To: to}
	}

	from := tx.Status
	tx.Status = to
	tx.UpdatedAt = time.Now()
	if err = mutate(tx); err != nil {
		return nil, err
	}

	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateTransaction(ctx, tx); err != nil {
			return err
		}
		return s.sync.RecordStateChange(ctx, "transaction:"+id, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to transition %s from %s to %s: %w", id, from, to, err)
	}

	s.logger.Info("Transaction status changed", "tx_id", id, "from", from, "to", to)
	if s.notifier != nil {
		s.notifier.NotifyStatusChange(tx)
	}
	return tx, nil
}

// checkCompletionInvariants enforces the completion preconditions: an active
// conversion consistent with the ledgered amount and target currency, and a
// total amount matching the fee snapshot.
func (s *LedgerService) checkCompletionInvariants(ctx context.Context, tx *entities.PaymentTransaction) error {
	if !tx.TotalAmount.Equal(tx.ExpectedTotal()) {
		return fmt.Errorf("total_amount %s does not reconcile with expected %s", tx.TotalAmount, tx.ExpectedTotal())
	}

	if tx.SourceCurrency == tx.TargetCurrency {
		return nil
	}

	active, err := s.repo.ActiveConversion(ctx, tx.ID)
	if err != nil {
		return err
	}
	if active == nil {
		return fmt.Errorf("no conversion recorded for cross-currency transaction %s", tx.ID)
	}
	if active.ToCurrency != tx.TargetCurrency {
		return fmt.Errorf("active conversion targets %s, transaction targets %s", active.ToCurrency, tx.TargetCurrency)
	}
	if !active.SourceAmount.Equal(tx.Amount) {
		return fmt.Errorf("active conversion amount %s does not match ledgered amount %s", active.SourceAmount, tx.Amount)
	}
	return nil
}

func validateNewTransaction(req *entities.PaymentTransaction) error {
	switch {
	case req.ClientID == "":
		return entities.NewValidationError("client_id", "required")
	case req.SellerID == "":
		return entities.NewValidationError("seller_id", "required")
	case req.Amount.IsNegative():
		return entities.NewValidationError("amount", "must not be negative")
	case req.SourceCurrency == "":
		return entities.NewValidationError("source_currency", "required")
	case req.TargetCurrency == "":
		return entities.NewValidationError("target_currency", "required")
	}

	switch req.PaymentMethod {
	case entities.PaymentFiat, entities.PaymentCrypto:
	default:
		return entities.NewValidationError("payment_method", fmt.Sprintf("unknown method %q", req.PaymentMethod))
	}

	switch req.SettlementMethod {
	case entities.SettlementBank, entities.SettlementBlockchain:
	default:
		return entities.NewValidationError("settlement_method", fmt.Sprintf("unknown method %q", req.SettlementMethod))
	}
	return nil
}

func stringField(metadata map[string]any, key string) *string {
	if metadata == nil {
		return nil
	}
	if v, ok := metadata[key].(string); ok && v != "" {
		return &v
	}
	return nil
}
