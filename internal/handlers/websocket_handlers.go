package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// Manager fans transaction status transitions out to websocket subscribers.
// It is the notifier the ledger calls after every committed transition.
type Manager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[string]map[*websocket.Conn]struct{}
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subscribers: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return m.upgrader.Upgrade(w, r, nil)
}

func (m *Manager) Subscribe(transactionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscribers[transactionID] == nil {
		m.subscribers[transactionID] = make(map[*websocket.Conn]struct{})
	}
	m.subscribers[transactionID][conn] = struct{}{}
}

func (m *Manager) Unsubscribe(transactionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subscribers[transactionID], conn)
	if len(m.subscribers[transactionID]) == 0 {
		delete(m.subscribers, transactionID)
	}
}

// NotifyStatusChange pushes the transaction snapshot to its subscribers.
// Dead connections are dropped on write failure.
func (m *Manager) NotifyStatusChange(tx *entities.PaymentTransaction) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.subscribers[tx.ID]))
	for conn := range m.subscribers[tx.ID] {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(map[string]any{
			"type":        "status_change",
			"transaction": tx,
		}); err != nil {
			m.logger.Error("failed to push status update", "tx_id", tx.ID, "error", err)
			m.Unsubscribe(tx.ID, conn)
			conn.Close()
		}
	}
}

type WebSocketHandler struct {
	logger       *slog.Logger
	transactions TransactionService
	manager      *Manager
}

func NewWebSocketHandler(logger *slog.Logger, transactions TransactionService, manager *Manager) *WebSocketHandler {
	return &WebSocketHandler{
		logger:       logger,
		transactions: transactions,
		manager:      manager,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/transactions/{id}", h.HandleConnection)
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tx, err := h.transactions.GetTransaction(r.Context(), id)
	if err != nil {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}

	conn, err := h.manager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.logger.Info("New status feed subscriber", "tx_id", id)
	h.manager.Subscribe(id, conn)

	// Send the current snapshot so subscribers never miss the state they
	// joined at.
	if err := conn.WriteJSON(map[string]any{"type": "snapshot", "transaction": tx}); err != nil {
		h.logger.Error("failed to send snapshot", "tx_id", id, "error", err)
	}

	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.logger.Info("Status feed subscriber disconnected", "tx_id", id)
			h.manager.Unsubscribe(id, conn)
			conn.Close()
			break
		}
	}
}
