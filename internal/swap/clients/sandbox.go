package clients

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

const (
	// Sandbox orders progress on a fixed clock after creation.
	sandboxDepositConfirmed = 30 * time.Second
	sandboxSwapComplete     = 60 * time.Second

	sandboxDepositWindow = 30 * time.Minute
	sandboxQuoteMinutes  = 10
	sandboxFeeRate       = "0.005"
)

// SandboxProvider simulates the upstream swap service for development and
// tests. Deposit addresses are derived from a BIP-32 master key so restarts
// with the same seed reproduce the same address sequence, and orders walk
// through the deposit lifecycle on a fixed schedule.
type SandboxProvider struct {
	logger    *slog.Logger
	masterKey *bip32.Key

	mu        sync.Mutex
	nextIndex uint32

	currencies []entities.Currency
	rates      map[string]decimal.Decimal
}

func NewSandboxProvider(logger *slog.Logger, seed string) (*SandboxProvider, error) {
	seedBytes := bip39.NewSeed(seed, "")
	masterKey, err := bip32.NewMasterKey(seedBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sandbox master key: %w", err)
	}

	return &SandboxProvider{
		logger:    logger,
		masterKey: masterKey,
		currencies: []entities.Currency{
			{Code: "BTC", Name: "Bitcoin", Network: "bitcoin"},
			{Code: "ETH", Name: "Ethereum", Network: "ethereum"},
			{Code: "USDT", Name: "Tether", Network: "ethereum"},
			{Code: "SOL", Name: "Solana", Network: "solana"},
		},
		rates: map[string]decimal.Decimal{
			"BTC/USDT": decimal.RequireFromString("64000"),
			"ETH/USDT": decimal.RequireFromString("3300"),
			"SOL/USDT": decimal.RequireFromString("150"),
			"ETH/BTC":  decimal.RequireFromString("0.0515"),
			"USDT/ETH": decimal.RequireFromString("0.000303"),
		},
	}, nil
}

func (p *SandboxProvider) Currencies(_ context.Context) ([]entities.Currency, error) {
	return append([]entities.Currency(nil), p.currencies...), nil
}

func (p *SandboxProvider) Estimate(_ context.Context, fromCurrency, fromNetwork, toCurrency, toNetwork string, amount decimal.Decimal) (*entities.SwapEstimate, error) {
	rate, ok := p.rates[fromCurrency+"/"+toCurrency]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", fromCurrency, toCurrency, entities.ErrUnsupportedPair)
	}

	gross := amount.Mul(rate)
	fee := gross.Mul(decimal.RequireFromString(sandboxFeeRate))

	return &entities.SwapEstimate{
		FromCurrency:    fromCurrency,
		FromNetwork:     fromNetwork,
		ToCurrency:      toCurrency,
		ToNetwork:       toNetwork,
		FromAmount:      amount,
		ToAmount:        gross.Sub(fee),
		ExchangeRate:    rate,
		Fee:             fee,
		ValidForMinutes: sandboxQuoteMinutes,
		QuotedAt:        time.Now(),
	}, nil
}

func (p *SandboxProvider) CreateOrder(_ context.Context, estimate entities.SwapEstimate, recipientAddress string) (*entities.SwapOrder, error) {
	address, err := p.deriveDepositAddress()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &entities.SwapOrder{
		OrderID:          uuid.New().String(),
		DepositAddress:   address,
		FromCurrency:     estimate.FromCurrency,
		FromNetwork:      estimate.FromNetwork,
		ToCurrency:       estimate.ToCurrency,
		ToNetwork:        estimate.ToNetwork,
		FromAmount:       estimate.FromAmount,
		ToAmount:         estimate.ToAmount,
		ExchangeRate:     estimate.ExchangeRate,
		RecipientAddress: recipientAddress,
		Status:           entities.SwapDepositPending,
		ExpiresAt:        now.Add(sandboxDepositWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	p.logger.Info("Sandbox swap order created", "order_id", order.OrderID, "deposit_address", address)
	return order, nil
}

// OrderStatus reports the simulated lifecycle position based on order age.
func (p *SandboxProvider) OrderStatus(_ context.Context, order *entities.SwapOrder) (entities.SwapOrderStatus, *string, error) {
	if !order.DepositConfirmed && time.Now().After(order.ExpiresAt) {
		return entities.SwapExpired, nil, nil
	}

	elapsed := time.Since(order.CreatedAt)
	switch {
	case elapsed < sandboxDepositConfirmed:
		return entities.SwapDepositPending, nil, nil
	case elapsed < sandboxSwapComplete:
		return entities.SwapDepositConfirmed, nil, nil
	default:
		hash := crypto.Keccak256Hash([]byte(order.OrderID)).Hex()
		return entities.SwapComplete, &hash, nil
	}
}

func (p *SandboxProvider) deriveDepositAddress() (string, error) {
	p.mu.Lock()
	index := p.nextIndex
	p.nextIndex++
	p.mu.Unlock()

	childKey, err := p.masterKey.NewChildKey(index)
	if err != nil {
		return "", fmt.Errorf("failed to derive child key %d: %w", index, err)
	}

	privKey, err := crypto.ToECDSA(childKey.Key)
	if err != nil {
		return "", fmt.Errorf("failed to build deposit key: %w", err)
	}

	return crypto.PubkeyToAddress(privKey.PublicKey).Hex(), nil
}
