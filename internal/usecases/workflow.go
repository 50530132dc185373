package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/core/ports"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/fees"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/rates"
)

// StepsRepository stores workflow step rows. ClaimStep is the only path from
// pending or failed into in_progress; it returns the claimed row for exactly
// one executor and ErrConcurrencyConflict for every other caller.
type StepsRepository interface {
	InsertStep(ctx context.Context, step *entities.WorkflowStep) error
	ClaimStep(ctx context.Context, stepID int) (*entities.WorkflowStep, error)
	UpdateStep(ctx context.Context, step *entities.WorkflowStep) error
	FindSteps(ctx context.Context, transactionID string) ([]entities.WorkflowStep, error)
}

// PayoutsRepository stores seller payout accounts.
type PayoutsRepository interface {
	InsertAccount(ctx context.Context, account *entities.SellerPayoutAccount) error
	FindAccounts(ctx context.Context, sellerID string) ([]entities.SellerPayoutAccount, error)
	ActiveAccounts(ctx context.Context, sellerID string) ([]entities.SellerPayoutAccount, error)
}

// SettlementExecutor performs the bank-side settlement on the management
// tier and returns the bank reference.
type SettlementExecutor interface {
	ExecuteSettlement(ctx context.Context, req entities.SettlementRequest) (string, error)
}

// SwapOrderSource locates the swap order backing a blockchain settlement.
type SwapOrderSource interface {
	OrderForTransaction(ctx context.Context, transactionID string) (*entities.SwapOrder, error)
}

// RateSource quotes a fresh rate from the upstream rate provider when the
// stored one is missing or expired.
type RateSource interface {
	FetchRate(ctx context.Context, fromCurrency, toCurrency string) (decimal.Decimal, time.Duration, error)
}

// CurrencyCatalog answers whether a currency code is offered.
type CurrencyCatalog interface {
	IsSupported(code string) bool
}

// WorkflowOrchestrator drives a transaction through the fixed settlement
// step sequence. Steps are recorded individually, claimed by one executor,
// and retried with backoff up to a bound before the transaction fails.
type WorkflowOrchestrator struct {
	logger     *slog.Logger
	ledger     *LedgerService
	steps      StepsRepository
	payouts    PayoutsRepository
	policy     *fees.Policy
	rates      *rates.Provider
	rateSource RateSource
	settler    SettlementExecutor
	swapOrders SwapOrderSource
	sync       SyncRecorder
	catalog    CurrencyCatalog

	retryLimit int
	backoff    time.Duration
}

func NewWorkflowOrchestrator(
	logger *slog.Logger,
	ledger *LedgerService,
	steps StepsRepository,
	payouts PayoutsRepository,
	policy *fees.Policy,
	ratesProvider *rates.Provider,
	rateSource RateSource,
	settler SettlementExecutor,
	swapOrders SwapOrderSource,
	syncRec SyncRecorder,
	catalog CurrencyCatalog,
	retryLimit int,
	backoff time.Duration,
) *WorkflowOrchestrator {
	if retryLimit < 1 {
		retryLimit = 1
	}
	return &WorkflowOrchestrator{
		logger:     logger,
		ledger:     ledger,
		steps:      steps,
		payouts:    payouts,
		policy:     policy,
		rates:      ratesProvider,
		rateSource: rateSource,
		settler:    settler,
		swapOrders: swapOrders,
		sync:       syncRec,
		catalog:    catalog,
		retryLimit: retryLimit,
		backoff:    backoff,
	}
}

// stepFn executes one step. carry holds the accumulated outputs of upstream
// steps and is the step's input; returned values merge back into carry.
type stepFn func(ctx context.Context, tx *entities.PaymentTransaction, carry map[string]any) (map[string]any, error)

// Run executes the canonical step sequence for one transaction. The step
// list is a total order fixed here at workflow start; no step is skipped or
// reordered.
func (o *WorkflowOrchestrator) Run(ctx context.Context, transactionID string) error {
	tx, err := o.ledger.StartProcessing(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to start workflow for %s: %w", transactionID, err)
	}

	executors := map[string]stepFn{
		ports.StepValidate:        o.validateStep,
		ports.StepConvertCurrency: o.convertCurrencyStep,
		ports.StepAssessFees:      o.assessFeesStep,
		ports.StepSettle:          o.settleStep,
		ports.StepNotify:          o.notifyStep,
	}

	carry := map[string]any{
		"amount":          tx.Amount.String(),
		"source_currency": tx.SourceCurrency,
		"target_currency": tx.TargetCurrency,
	}

	for _, name := range ports.WorkflowSteps {
		output, stepErr := o.runStep(ctx, tx, name, executors[name], carry)
		if stepErr != nil {
			reason := fmt.Sprintf("step %s failed: %v", name, stepErr)
			if _, failErr := o.ledger.Fail(ctx, transactionID, reason); failErr != nil {
				o.logger.Error("Failed to mark transaction failed", "tx_id", transactionID, "error", failErr)
			}
			return &entities.StepExecutionError{Step: name, Err: stepErr}
		}
		for k, v := range output {
			carry[k] = v
		}
	}

	return o.complete(ctx, transactionID, carry)
}

// runStep records the step row and executes it with bounded retries. The
// step is claimed before each attempt and re-enters in_progress only from
// failed, never from a completed state.
func (o *WorkflowOrchestrator) runStep(ctx context.Context, tx *entities.PaymentTransaction, name string, fn stepFn, carry map[string]any) (map[string]any, error) {
	step := &entities.WorkflowStep{
		TransactionID: tx.ID,
		StepName:      name,
		Status:        entities.StepPending,
		InputData:     copyMap(carry),
		CreatedAt:     time.Now(),
	}
	if err := o.steps.InsertStep(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to record step: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= o.retryLimit; attempt++ {
		claimed, err := o.steps.ClaimStep(ctx, step.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim step: %w", err)
		}
		step = claimed

		output, execErr := fn(ctx, tx, carry)
		if execErr == nil {
			now := time.Now()
			step.Status = entities.StepCompleted
			step.OutputData = output
			step.ErrorMessage = nil
			step.CompletedAt = &now
			if err = o.steps.UpdateStep(ctx, step); err != nil {
				return nil, fmt.Errorf("failed to record step completion: %w", err)
			}
			o.logger.Info("Workflow step completed", "tx_id", tx.ID, "step", name, "attempt", attempt)
			return output, nil
		}

		lastErr = execErr
		msg := execErr.Error()
		step.Status = entities.StepFailed
		step.ErrorMessage = &msg
		if err = o.steps.UpdateStep(ctx, step); err != nil {
			return nil, fmt.Errorf("failed to record step failure: %w", err)
		}

		o.logger.Warn("Workflow step failed",
			"tx_id", tx.ID,
			"step", name,
			"attempt", attempt,
			"error", execErr)

		// Validation problems will not heal on retry.
		var verr *entities.ValidationError
		if errors.As(execErr, &verr) {
			break
		}

		if attempt < o.retryLimit {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.backoff * time.Duration(attempt)):
			}
		}
	}

	return nil, lastErr
}

// complete fetches the final state and moves the transaction to completed.
// A crypto swap fold may have completed it already; that is not an error.
func (o *WorkflowOrchestrator) complete(ctx context.Context, transactionID string, carry map[string]any) error {
	current, err := o.ledger.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if current.Status == entities.TransactionCompleted {
		return nil
	}

	var txHash, bankRef *string
	if v, ok := carry["tx_hash"].(string); ok && v != "" {
		txHash = &v
	}
	if v, ok := carry["bank_reference"].(string); ok && v != "" {
		bankRef = &v
	}

	if _, err = o.ledger.Complete(ctx, transactionID, txHash, bankRef); err != nil {
		reason := fmt.Sprintf("completion rejected: %v", err)
		if _, failErr := o.ledger.Fail(ctx, transactionID, reason); failErr != nil {
			o.logger.Error("Failed to mark transaction failed", "tx_id", transactionID, "error", failErr)
		}
		return err
	}
	return nil
}

// Steps returns the recorded step rows for a transaction in creation order.
func (o *WorkflowOrchestrator) Steps(ctx context.Context, transactionID string) ([]entities.WorkflowStep, error) {
	return o.steps.FindSteps(ctx, transactionID)
}

func (o *WorkflowOrchestrator) validateStep(ctx context.Context, tx *entities.PaymentTransaction, _ map[string]any) (map[string]any, error) {
	if !tx.Amount.IsPositive() {
		return nil, entities.NewValidationError("amount", "must be positive to settle")
	}
	if !o.catalog.IsSupported(tx.SourceCurrency) {
		return nil, entities.NewValidationError("source_currency", fmt.Sprintf("currency %q not offered", tx.SourceCurrency))
	}
	if !o.catalog.IsSupported(tx.TargetCurrency) {
		return nil, entities.NewValidationError("target_currency", fmt.Sprintf("currency %q not offered", tx.TargetCurrency))
	}

	accounts, err := o.payouts.ActiveAccounts(ctx, tx.SellerID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, entities.NewValidationError("seller_id", "seller has no active payout account")
	}

	return map[string]any{"payout_account_id": accounts[0].ID}, nil
}

// convertCurrencyStep resolves the rate used for settlement. When the stored
// rate is missing or expired it requests a fresh quote upstream and retries
// the lookup; it never fabricates a rate locally.
func (o *WorkflowOrchestrator) convertCurrencyStep(ctx context.Context, tx *entities.PaymentTransaction, _ map[string]any) (map[string]any, error) {
	rate, err := o.rates.Resolve(ctx, tx.SourceCurrency, tx.TargetCurrency)
	if errors.Is(err, entities.ErrRateUnavailable) {
		quoted, ttl, fetchErr := o.rateSource.FetchRate(ctx, tx.SourceCurrency, tx.TargetCurrency)
		if fetchErr != nil {
			return nil, fmt.Errorf("rate refresh failed: %w", fetchErr)
		}
		if _, refreshErr := o.rates.Refresh(ctx, tx.SourceCurrency, tx.TargetCurrency, quoted, "upstream", ttl); refreshErr != nil {
			return nil, refreshErr
		}
		rate, err = o.rates.Resolve(ctx, tx.SourceCurrency, tx.TargetCurrency)
	}
	if err != nil {
		return nil, err
	}

	output := map[string]any{
		"rate":        rate.Rate.String(),
		"rate_source": rate.Source,
	}
	if rate.ValidUntil != nil {
		output["rate_valid_until"] = rate.ValidUntil.Format(time.RFC3339)
	}
	return output, nil
}

// assessFeesStep snapshots fees onto the transaction and, for cross-currency
// transactions, records the conversion performed at the resolved rate.
func (o *WorkflowOrchestrator) assessFeesStep(ctx context.Context, tx *entities.PaymentTransaction, carry map[string]any) (map[string]any, error) {
	volume, err := o.ledger.ClientVolume(ctx, tx.ClientID)
	if err != nil {
		return nil, err
	}

	assessment := o.policy.Assess(tx.Amount, volume, tx.SourceCurrency, tx.TargetCurrency)

	if tx.SourceCurrency != tx.TargetCurrency {
		rateStr, _ := carry["rate"].(string)
		rateValue, parseErr := decimal.NewFromString(rateStr)
		if parseErr != nil {
			return nil, fmt.Errorf("missing resolved rate in step input: %w", parseErr)
		}
		rateRow := &entities.ExchangeRate{
			FromCurrency: tx.SourceCurrency,
			ToCurrency:   tx.TargetCurrency,
			Rate:         rateValue,
		}
		if _, err = o.ledger.RecordConversion(ctx, tx.ID, rateRow, assessment.ConversionFee); err != nil {
			return nil, err
		}
	}

	updated, err := o.ledger.ApplyAssessment(ctx, tx.ID, assessment)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"tier":           assessment.Tier.Name,
		"uex_buyer_fee":  assessment.UexBuyerFee.String(),
		"uex_seller_fee": assessment.UexSellerFee.String(),
		"management_fee": assessment.ManagementFee.String(),
		"conversion_fee": assessment.ConversionFee.String(),
		"total_amount":   updated.TotalAmount.String(),
	}, nil
}

// settleStep moves value to the seller. Bank settlements execute on the
// management tier; blockchain settlements are serviced by the swap gateway
// and succeed once the backing swap order is complete.
func (o *WorkflowOrchestrator) settleStep(ctx context.Context, tx *entities.PaymentTransaction, _ map[string]any) (map[string]any, error) {
	accounts, err := o.payouts.ActiveAccounts(ctx, tx.SellerID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, entities.ErrPayoutAccountNotFound
	}
	account := accounts[0]

	switch tx.SettlementMethod {
	case entities.SettlementBank:
		ref, execErr := o.settler.ExecuteSettlement(ctx, entities.SettlementRequest{
			TransactionID:  tx.ID,
			SellerID:       tx.SellerID,
			Amount:         tx.Amount,
			Currency:       tx.TargetCurrency,
			AccountType:    string(account.AccountType),
			AccountDetails: account.AccountDetails,
		})
		if execErr != nil {
			return nil, fmt.Errorf("bank settlement failed: %w", execErr)
		}
		return map[string]any{"bank_reference": ref}, nil

	case entities.SettlementBlockchain:
		order, lookupErr := o.swapOrders.OrderForTransaction(ctx, tx.ID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		switch order.Status {
		case entities.SwapComplete:
			hash := ""
			if order.TxHash != nil {
				hash = *order.TxHash
			}
			return map[string]any{"tx_hash": hash}, nil
		case entities.SwapExpired:
			return nil, entities.NewValidationError("swap_order", "backing swap order expired")
		default:
			return nil, fmt.Errorf("swap order %s not settled yet (status %s)", order.OrderID, order.Status)
		}

	default:
		return nil, entities.NewValidationError("settlement_method", fmt.Sprintf("unknown method %q", tx.SettlementMethod))
	}
}

// notifyStep records the audit and analytics events the management tier must
// eventually observe; the reconciler sweep delivers them at least once.
func (o *WorkflowOrchestrator) notifyStep(ctx context.Context, tx *entities.PaymentTransaction, carry map[string]any) (map[string]any, error) {
	event := entities.AuditEvent{
		Kind:          "transaction.settled",
		TransactionID: tx.ID,
		Detail: map[string]any{
			"seller_id":    tx.SellerID,
			"client_id":    tx.ClientID,
			"amount":       tx.Amount.String(),
			"total_amount": carry["total_amount"],
		},
	}
	if err := o.sync.RecordStateChange(ctx, "audit:"+tx.ID, event); err != nil {
		return nil, err
	}
	if err := o.sync.RecordStateChange(ctx, "analytics:"+tx.ID, map[string]any{
		"transaction_id": tx.ID,
		"amount":         tx.Amount.String(),
		"currency":       tx.TargetCurrency,
	}); err != nil {
		return nil, err
	}

	return map[string]any{"audit_key": "audit:" + tx.ID}, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
