package cache

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dCache/lib/index"
)

// Config configures a Cache.
type Config struct {
	// TypeSchema declares the indexed types, see index.ParseTypeInfoMap.
	TypeSchema string

	// IndexForAll indexes entries of undeclared types by key and tags.
	IndexForAll bool

	// AsyncIndexing applies index updates on the index processor instead of inline.
	AsyncIndexing bool

	// SyncQueryEvaluation evaluates continuous queries and delivers notifications inline
	// on the mutating goroutine.
	SyncQueryEvaluation bool

	// DisableIndexNotDefinedError makes queries on undeclared attributes match nothing
	// instead of failing.
	DisableIndexNotDefinedError bool

	// EvalIndexPoolSize bounds the pooled per-type evaluation indexes.
	EvalIndexPoolSize int

	// NotificationBuffer is the capacity of every client inbox.
	NotificationBuffer int

	// Shards is the number of entry maps.
	Shards int

	// StopTimeout bounds how long Close waits for background work.
	StopTimeout time.Duration
}

// DefaultConfig returns the configuration used by the server when nothing is set.
func DefaultConfig() Config {
	return Config{
		IndexForAll:        true,
		EvalIndexPoolSize:  64,
		NotificationBuffer: 1024,
		Shards:             16,
		StopTimeout:        5 * time.Second,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.EvalIndexPoolSize <= 0 {
		c.EvalIndexPoolSize = d.EvalIndexPoolSize
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = d.NotificationBuffer
	}
	if c.Shards <= 0 {
		c.Shards = d.Shards
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
}

// Types parses the type schema.
func (c Config) Types() (*index.TypeInfoMap, error) {
	types, err := index.ParseTypeInfoMap(c.TypeSchema)
	if err != nil {
		return nil, fmt.Errorf("invalid type schema: %w", err)
	}
	return types, nil
}
