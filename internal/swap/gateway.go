package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/core/ports"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// Gateway runs the quote, deposit and completion protocol for crypto-funded
// transactions against an upstream swap provider. Order status only ever
// moves on a provider observation; the gateway never infers a deposit.
type Gateway struct {
	logger   *slog.Logger
	provider ports.SwapProvider
	ledger   ports.LedgerService

	mu            sync.RWMutex
	orders        map[string]*entities.SwapOrder
	byTransaction map[string]string
}

func NewGateway(logger *slog.Logger, provider ports.SwapProvider, ledger ports.LedgerService) *Gateway {
	return &Gateway{
		logger:        logger,
		provider:      provider,
		ledger:        ledger,
		orders:        make(map[string]*entities.SwapOrder),
		byTransaction: make(map[string]string),
	}
}

func (g *Gateway) Currencies(ctx context.Context) ([]entities.Currency, error) {
	return g.provider.Currencies(ctx)
}

func (g *Gateway) Quote(ctx context.Context, fromCurrency, fromNetwork, toCurrency, toNetwork string, amount decimal.Decimal) (*entities.SwapEstimate, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("quote amount %s: %w", amount, entities.ErrInvalidAmount)
	}

	estimate, err := g.provider.Estimate(ctx, fromCurrency, fromNetwork, toCurrency, toNetwork, amount)
	if err != nil {
		return nil, err
	}

	g.logger.Info("Swap quoted",
		"from", fromCurrency, "to", toCurrency,
		"amount", amount, "rate", estimate.ExchangeRate,
		"valid_minutes", estimate.ValidForMinutes)
	return estimate, nil
}

// Initiate accepts a quote and places the order upstream. Expired quotes
// are rejected; the client must re-quote.
func (g *Gateway) Initiate(ctx context.Context, estimate entities.SwapEstimate, recipientAddress, transactionID string) (*entities.SwapOrder, error) {
	if time.Now().After(estimate.ExpiresAt()) {
		return nil, fmt.Errorf("quote from %s: %w", estimate.QuotedAt.Format(time.RFC3339), entities.ErrQuoteExpired)
	}
	if err := validateRecipientAddress(estimate.ToNetwork, recipientAddress); err != nil {
		return nil, err
	}

	order, err := g.provider.CreateOrder(ctx, estimate, recipientAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to create swap order: %w", err)
	}
	order.TransactionID = transactionID

	g.mu.Lock()
	g.orders[order.OrderID] = order
	if transactionID != "" {
		g.byTransaction[transactionID] = order.OrderID
	}
	g.mu.Unlock()

	g.logger.Info("Swap order initiated",
		"order_id", order.OrderID, "tx_id", transactionID,
		"deposit_address", order.DepositAddress, "expires_at", order.ExpiresAt)
	return g.snapshot(order.OrderID)
}

// PollStatus observes the provider's current view of the order and folds
// terminal outcomes into the transaction ledger.
func (g *Gateway) PollStatus(ctx context.Context, orderID string) (*entities.SwapOrder, error) {
	g.mu.RLock()
	order, ok := g.orders[orderID]
	var observed entities.SwapOrder
	if ok {
		observed = *order
	}
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", orderID, entities.ErrSwapOrderNotFound)
	}
	if observed.Status.IsTerminal() {
		return &observed, nil
	}

	status, txHash, err := g.provider.OrderStatus(ctx, &observed)
	if err != nil {
		return nil, fmt.Errorf("failed to poll swap order %s: %w", orderID, err)
	}

	g.mu.Lock()
	order.Status = status
	order.UpdatedAt = time.Now()
	if status == entities.SwapDepositConfirmed || status == entities.SwapComplete {
		order.DepositConfirmed = true
	}
	if txHash != nil {
		order.TxHash = txHash
	}
	// Concurrent polls mutate the shared order row; fold on a copy taken
	// under the lock.
	observed = *order
	g.mu.Unlock()

	switch observed.Status {
	case entities.SwapComplete:
		g.foldCompletion(ctx, &observed)
	case entities.SwapExpired:
		g.foldExpiry(ctx, &observed)
	}

	return g.snapshot(orderID)
}

// OrderForTransaction locates the swap order funding a transaction.
func (g *Gateway) OrderForTransaction(_ context.Context, transactionID string) (*entities.SwapOrder, error) {
	g.mu.RLock()
	orderID, ok := g.byTransaction[transactionID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, entities.ErrSwapOrderNotFound)
	}
	return g.snapshot(orderID)
}

// QRPayload renders the deposit instruction encoded into a wallet QR code.
func QRPayload(order *entities.SwapOrder) string {
	payload := fmt.Sprintf("%s:%s?amount=%s", order.FromNetwork, order.DepositAddress, order.FromAmount)
	if order.DepositTag != nil {
		payload += "&tag=" + *order.DepositTag
	}
	return payload
}

func (g *Gateway) foldCompletion(ctx context.Context, order *entities.SwapOrder) {
	if order.TransactionID == "" {
		return
	}

	_, err := g.ledger.Complete(ctx, order.TransactionID, order.TxHash, nil)
	if err != nil {
		// The settlement workflow may have completed the transaction first.
		var invalid *entities.InvalidTransitionError
		if errors.As(err, &invalid) && invalid.From == entities.TransactionCompleted {
			return
		}
		g.logger.Error("failed to complete transaction from swap order",
			"order_id", order.OrderID, "tx_id", order.TransactionID, "error", err)
		return
	}

	g.logger.Info("Transaction completed from swap order",
		"order_id", order.OrderID, "tx_id", order.TransactionID)
}

func (g *Gateway) foldExpiry(ctx context.Context, order *entities.SwapOrder) {
	if order.TransactionID == "" || order.DepositConfirmed {
		return
	}

	_, err := g.ledger.Fail(ctx, order.TransactionID, "swap order expired before deposit confirmation")
	if err != nil {
		g.logger.Error("failed to fail transaction for expired swap order",
			"order_id", order.OrderID, "tx_id", order.TransactionID, "error", err)
	}
}

func (g *Gateway) snapshot(orderID string) (*entities.SwapOrder, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", orderID, entities.ErrSwapOrderNotFound)
	}
	copied := *order
	return &copied, nil
}
