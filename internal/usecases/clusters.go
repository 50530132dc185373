package usecases

import (
	"context"
	"log/slog"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// ClusterFetcher pulls the cluster list from the management tier.
type ClusterFetcher interface {
	FetchClusters(ctx context.Context) ([]entities.Cluster, error)
}

// ClusterRegistry is the local cluster cache.
type ClusterRegistry interface {
	Clusters() []entities.Cluster
	RegisterCluster(cluster entities.Cluster)
}

// ClusterDirectory serves the processing cluster list read-through: the
// management tier is authoritative, the local registry answers when the
// tier is unreachable.
type ClusterDirectory struct {
	logger   *slog.Logger
	fetcher  ClusterFetcher
	registry ClusterRegistry
}

func NewClusterDirectory(logger *slog.Logger, fetcher ClusterFetcher, registry ClusterRegistry) *ClusterDirectory {
	return &ClusterDirectory{logger: logger, fetcher: fetcher, registry: registry}
}

func (d *ClusterDirectory) Clusters(ctx context.Context) ([]entities.Cluster, error) {
	if d.fetcher != nil {
		clusters, err := d.fetcher.FetchClusters(ctx)
		if err == nil {
			for _, cluster := range clusters {
				d.registry.RegisterCluster(cluster)
			}
			return clusters, nil
		}
		d.logger.Warn("Cluster fetch failed, serving cached registry", "error", err)
	}
	return d.registry.Clusters(), nil
}
