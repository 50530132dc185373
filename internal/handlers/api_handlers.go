package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/swap"
	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/usecases"
)

var (
	_ TransactionService = (*usecases.LedgerService)(nil)
	_ WorkflowRunner     = (*usecases.WorkflowOrchestrator)(nil)
)

// SwapTracker starts background polling for an initiated swap order. The
// poll goroutine lives on the process lifecycle, not the request.
type SwapTracker interface {
	Track(orderID string)
}

type HTTPHandler struct {
	logger       *slog.Logger
	transactions TransactionService
	workflow     WorkflowRunner
	swaps        SwapService
	payouts      PayoutAccountService
	clusters     ClusterService
	tracker      SwapTracker
}

func NewHTTPHandler(
	logger *slog.Logger,
	transactions TransactionService,
	workflow WorkflowRunner,
	swaps SwapService,
	payouts PayoutAccountService,
	clusters ClusterService,
	tracker SwapTracker,
) *HTTPHandler {
	return &HTTPHandler{
		logger:       logger,
		transactions: transactions,
		workflow:     workflow,
		swaps:        swaps,
		payouts:      payouts,
		clusters:     clusters,
		tracker:      tracker,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Transactions
	router.HandleFunc("/transaction", h.CreateTransaction).Methods("POST")
	router.HandleFunc("/transaction/{id}", h.GetTransaction).Methods("GET")
	router.HandleFunc("/transaction/{id}/status", h.UpdateTransactionStatus).Methods("PUT")
	router.HandleFunc("/transactions", h.ListTransactions).Methods("GET")

	// Crypto swaps
	router.HandleFunc("/currencies", h.GetCurrencies).Methods("GET")
	router.HandleFunc("/estimate", h.EstimateSwap).Methods("POST")
	router.HandleFunc("/crypto/initiate", h.InitiateSwap).Methods("POST")
	router.HandleFunc("/crypto/order/{orderId}", h.GetSwapOrder).Methods("GET")

	// Seller payout accounts
	router.HandleFunc("/sellers/{id}/payout-accounts", h.GetPayoutAccounts).Methods("GET")
	router.HandleFunc("/sellers/{id}/payout-accounts", h.AddPayoutAccount).Methods("POST")

	// Clusters
	router.HandleFunc("/clusters", h.GetClusters).Methods("GET")

	router.HandleFunc("/health", h.Health).Methods("GET")
}

type createTransactionRequest struct {
	ClientID         string          `json:"client_id"`
	SellerID         string          `json:"seller_id"`
	Amount           decimal.Decimal `json:"amount"`
	SourceCurrency   string          `json:"source_currency"`
	TargetCurrency   string          `json:"target_currency"`
	PaymentMethod    string          `json:"payment_method"`
	SettlementMethod string          `json:"settlement_method"`
}

func (h *HTTPHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := h.transactions.CreateTransaction(r.Context(), entities.PaymentTransaction{
		ClientID:         req.ClientID,
		SellerID:         req.SellerID,
		Amount:           req.Amount,
		SourceCurrency:   req.SourceCurrency,
		TargetCurrency:   req.TargetCurrency,
		PaymentMethod:    entities.PaymentMethod(req.PaymentMethod),
		SettlementMethod: entities.SettlementMethod(req.SettlementMethod),
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	// Settlement runs in the background; clients follow progress over the
	// status endpoint or the websocket feed.
	workflowCtx := context.WithoutCancel(r.Context())
	go func() {
		if err := h.workflow.Run(workflowCtx, tx.ID); err != nil {
			h.logger.Error("Settlement workflow failed", "tx_id", tx.ID, "error", err)
		}
	}()

	h.writeSuccess(w, http.StatusCreated, tx)
}

func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tx, err := h.transactions.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	conversions, err := h.transactions.GetConversions(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	fees, err := h.transactions.GetFees(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	steps, err := h.workflow.Steps(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]any{
		"transaction": tx,
		"conversions": conversions,
		"fees":        fees,
		"steps":       steps,
	})
}

type statusUpdateRequest struct {
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

func (h *HTTPHandler) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	tx, err := h.transactions.UpdateStatus(r.Context(), id, entities.TransactionStatus(req.Status), req.Metadata)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, tx)
}

func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := usecases.TransactionFilter{
		ClientID: r.URL.Query().Get("client_id"),
		SellerID: r.URL.Query().Get("seller_id"),
		Status:   entities.TransactionStatus(r.URL.Query().Get("status")),
	}
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	transactions, err := h.transactions.ListTransactions(r.Context(), filter)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, transactions)
}

func (h *HTTPHandler) GetCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.swaps.Currencies(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, currencies)
}

type estimateRequest struct {
	FromCurrency string          `json:"from_currency"`
	FromNetwork  string          `json:"from_network"`
	ToCurrency   string          `json:"to_currency"`
	ToNetwork    string          `json:"to_network"`
	Amount       decimal.Decimal `json:"amount"`
}

func (h *HTTPHandler) EstimateSwap(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	estimate, err := h.swaps.Quote(r.Context(), req.FromCurrency, req.FromNetwork, req.ToCurrency, req.ToNetwork, req.Amount)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, estimate)
}

type initiateSwapRequest struct {
	FromAmount       decimal.Decimal `json:"from_amount"`
	FromCurrency     string          `json:"from_currency"`
	FromNetwork      string          `json:"from_network"`
	ToCurrency       string          `json:"to_currency"`
	ToNetwork        string          `json:"to_network"`
	RecipientAddress string          `json:"recipient_address"`
	TransactionID    string          `json:"transaction_id,omitempty"`
}

type initiateSwapResponse struct {
	OrderID        string                   `json:"order_id"`
	DepositAddress string                   `json:"deposit_address"`
	DepositTag     *string                  `json:"deposit_tag,omitempty"`
	QRCode         string                   `json:"qr_code"`
	FromAmount     decimal.Decimal          `json:"from_amount"`
	ToAmount       decimal.Decimal          `json:"to_amount"`
	ExchangeRate   decimal.Decimal          `json:"exchange_rate"`
	Status         entities.SwapOrderStatus `json:"status"`
	ExpiresAt      time.Time                `json:"expires_at"`
	Instructions   string                   `json:"instructions"`
}

func (h *HTTPHandler) InitiateSwap(w http.ResponseWriter, r *http.Request) {
	var req initiateSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Quote fresh rather than trusting a client-held estimate.
	estimate, err := h.swaps.Quote(r.Context(), req.FromCurrency, req.FromNetwork, req.ToCurrency, req.ToNetwork, req.FromAmount)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	order, err := h.swaps.Initiate(r.Context(), *estimate, req.RecipientAddress, req.TransactionID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	h.tracker.Track(order.OrderID)

	h.writeSuccess(w, http.StatusCreated, initiateSwapResponse{
		OrderID:        order.OrderID,
		DepositAddress: order.DepositAddress,
		DepositTag:     order.DepositTag,
		QRCode:         swap.QRPayload(order),
		FromAmount:     order.FromAmount,
		ToAmount:       order.ToAmount,
		ExchangeRate:   order.ExchangeRate,
		Status:         order.Status,
		ExpiresAt:      order.ExpiresAt,
		Instructions:   depositInstructions(order),
	})
}

// depositInstructions renders the human-readable deposit step shown next to
// the QR code.
func depositInstructions(order *entities.SwapOrder) string {
	text := fmt.Sprintf("Send exactly %s %s to %s on the %s network before %s.",
		order.FromAmount, order.FromCurrency, order.DepositAddress,
		order.FromNetwork, order.ExpiresAt.Format(time.RFC3339))
	if order.DepositTag != nil {
		text += fmt.Sprintf(" Include deposit tag %s or the deposit cannot be credited.", *order.DepositTag)
	}
	return text
}

func (h *HTTPHandler) GetSwapOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	order, err := h.swaps.PollStatus(r.Context(), orderID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, order)
}

func (h *HTTPHandler) GetPayoutAccounts(w http.ResponseWriter, r *http.Request) {
	sellerID := mux.Vars(r)["id"]

	accounts, err := h.payouts.GetAccounts(r.Context(), sellerID)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, accounts)
}

type payoutAccountRequest struct {
	AccountType    string         `json:"account_type"`
	Currency       string         `json:"currency"`
	AccountDetails map[string]any `json:"account_details"`
}

func (h *HTTPHandler) AddPayoutAccount(w http.ResponseWriter, r *http.Request) {
	sellerID := mux.Vars(r)["id"]

	var req payoutAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.payouts.AddAccount(r.Context(), entities.SellerPayoutAccount{
		SellerID:       sellerID,
		AccountType:    entities.PayoutAccountType(req.AccountType),
		Currency:       req.Currency,
		AccountDetails: req.AccountDetails,
	})
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, account)
}

func (h *HTTPHandler) GetClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.clusters.Clusters(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, clusters)
}

func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeFailure maps domain errors onto HTTP status codes.
func (h *HTTPHandler) writeFailure(w http.ResponseWriter, err error) {
	var (
		validation *entities.ValidationError
		transition *entities.InvalidTransitionError
	)

	switch {
	case errors.As(err, &validation),
		errors.Is(err, entities.ErrInvalidAmount),
		errors.Is(err, entities.ErrUnsupportedPair):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entities.ErrQuoteExpired):
		h.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, entities.ErrTransactionNotFound),
		errors.Is(err, entities.ErrSwapOrderNotFound),
		errors.Is(err, entities.ErrPayoutAccountNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, entities.ErrConcurrencyConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &transition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, entities.ErrRateUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
