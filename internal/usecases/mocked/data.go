package mocked

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// DataService serves the seeded currency catalog and cluster registry used
// when the platform runs without a live management tier.
type DataService struct {
	logger *slog.Logger

	mu         sync.RWMutex
	currencies []entities.Currency
	clusters   []entities.Cluster
}

func NewDataService(logger *slog.Logger) *DataService {
	s := &DataService{
		logger: logger,
		currencies: []entities.Currency{
			{Code: "USD", Name: "US Dollar", Network: ""},
			{Code: "EUR", Name: "Euro", Network: ""},
			{Code: "GBP", Name: "Pound Sterling", Network: ""},
			{Code: "BTC", Name: "Bitcoin", Network: "bitcoin"},
			{Code: "ETH", Name: "Ethereum", Network: "ethereum"},
			{Code: "USDT", Name: "Tether", Network: "ethereum"},
			{Code: "SOL", Name: "Solana", Network: "solana"},
		},
		clusters: []entities.Cluster{
			{ID: "cluster-eu-1", Name: "Processing EU", Region: "eu-central", Endpoint: "http://localhost:8095", Active: true},
			{ID: "cluster-us-1", Name: "Processing US", Region: "us-east", Endpoint: "http://localhost:8096", Active: true},
		},
	}

	slices.SortFunc(s.currencies, func(a, b entities.Currency) int {
		return strings.Compare(a.Code, b.Code)
	})

	logger.Info("Seeded reference data", "currencies", len(s.currencies), "clusters", len(s.clusters))
	return s
}

func (s *DataService) Currencies() []entities.Currency {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entities.Currency(nil), s.currencies...)
}

func (s *DataService) IsSupported(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.currencies {
		if c.Code == code {
			return true
		}
	}
	return false
}

func (s *DataService) Clusters() []entities.Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entities.Cluster(nil), s.clusters...)
}

// RegisterCluster adds or replaces a processing cluster entry.
func (s *DataService) RegisterCluster(cluster entities.Cluster) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.clusters {
		if s.clusters[i].ID == cluster.ID {
			s.clusters[i] = cluster
			return
		}
	}
	s.clusters = append(s.clusters, cluster)
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
