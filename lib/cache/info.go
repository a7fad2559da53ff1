package cache

import (
	"github.com/ValentinKolb/dCache/lib/cq"
	"github.com/ValentinKolb/dCache/lib/util"
)

// Info is a snapshot of the cache's size and query bookkeeping.
type Info struct {
	Entries           int                    `json:"entries"`
	IndexedTypes      []string               `json:"indexed_types"`
	IndexSizeBytes    int64                  `json:"index_size_bytes"`
	RegisteredQueries int                    `json:"registered_queries"`
	Clients           int                    `json:"clients"`
	Analyzer          cq.AnalyzerStats       `json:"analyzer"`
	ShardDistribution util.DistributionStats `json:"shard_distribution"`
	TypeSchema        string                 `json:"type_schema"`
	AsyncIndexing     bool                   `json:"async_indexing"`
	SyncQueries       bool                   `json:"sync_queries"`
}

// GetInfo collects the cache statistics. Values are not taken atomically.
func (c *Cache) GetInfo() Info {
	sizes := make([]float64, len(c.shards))
	var entries int
	for i, shard := range c.shards {
		n := shard.Size()
		sizes[i] = float64(n)
		entries += n
	}

	return Info{
		Entries:           entries,
		IndexedTypes:      c.indexes.IndexedTypes(),
		IndexSizeBytes:    c.indexes.Size(),
		RegisteredQueries: c.queries.Count(),
		Clients:           c.inboxes.Size(),
		Analyzer:          c.analyzer.Stats(),
		ShardDistribution: util.NewDistributionStats(sizes),
		TypeSchema:        c.types.String(),
		AsyncIndexing:     c.cfg.AsyncIndexing,
		SyncQueries:       c.cfg.SyncQueryEvaluation,
	}
}
