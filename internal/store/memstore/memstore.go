// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package memstore is the default telemetry store backend: capacity-bounded
// in-memory collections with secondary indexes and FIFO eviction.
//
// Each record type lives in its own shard with its own lock, so concurrent
// writers of independent types never contend. Secondary indexes reference
// records by id and may briefly point at evicted records; queries filter such
// stale references out, and the indexes are swept once the number of
// evictions since the last sweep reaches the shard capacity, which keeps
// index memory proportional to capacity with amortized constant cost per
// write.
package memstore

import (
	"context"
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/telescope-obs/telescope/internal/store"
	"github.com/telescope-obs/telescope/internal/telemetry"
)

// Config bounds the three collections.
type Config struct {
	MaxLogs    int `koanf:"max_logs"`
	MaxMetrics int `koanf:"max_metrics"`
	MaxTraces  int `koanf:"max_traces"`
}

// DefaultConfig returns the representative default capacities.
func DefaultConfig() Config {
	return Config{
		MaxLogs:    100_000,
		MaxMetrics: 100_000,
		MaxTraces:  50_000,
	}
}

// Validate checks that every capacity is positive.
func (c Config) Validate() error {
	if c.MaxLogs <= 0 {
		return fmt.Errorf("max_logs must be positive, got %d", c.MaxLogs)
	}
	if c.MaxMetrics <= 0 {
		return fmt.Errorf("max_metrics must be positive, got %d", c.MaxMetrics)
	}
	if c.MaxTraces <= 0 {
		return fmt.Errorf("max_traces must be positive, got %d", c.MaxTraces)
	}
	return nil
}

// Store is the in-memory store.Store implementation.
type Store struct {
	logger *zap.Logger
	seq    atomic.Uint64

	logs    logShard
	metrics metricShard
	traces  traceShard
}

var _ store.Store = (*Store)(nil)

// New creates a Store with the given capacities.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{logger: logger}
	s.logs.init(cfg.MaxLogs)
	s.metrics.init(cfg.MaxMetrics)
	s.traces.init(cfg.MaxTraces)
	return s, nil
}

// nextID returns the next monotonic record identifier. A single sequence
// spans all record types.
func (s *Store) nextID() uint64 {
	return s.seq.Inc()
}

func (s *Store) AddLog(_ context.Context, rec telemetry.LogRecord) (uint64, error) {
	rec.ID = s.nextID()
	s.logs.add(rec)
	return rec.ID, nil
}

func (s *Store) AddMetric(_ context.Context, sample telemetry.MetricSample) (uint64, error) {
	sample.ID = s.nextID()
	s.metrics.add(sample)
	return sample.ID, nil
}

func (s *Store) AddSpan(_ context.Context, span telemetry.TraceSpan) (uint64, error) {
	id := s.nextID()
	s.traces.add(span)
	return id, nil
}

func (s *Store) QueryLogs(_ context.Context, f store.LogFilter) ([]telemetry.LogRecord, error) {
	return s.logs.query(f), nil
}

func (s *Store) QueryMetrics(_ context.Context, f store.MetricFilter) ([]telemetry.MetricSample, error) {
	return s.metrics.query(f), nil
}

func (s *Store) QueryTraces(_ context.Context, f store.TraceFilter) ([]telemetry.TraceSummary, error) {
	return s.traces.query(f), nil
}

func (s *Store) GetTrace(_ context.Context, traceID string) (telemetry.Trace, bool, error) {
	tr, ok := s.traces.get(traceID)
	return tr, ok, nil
}

func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	return store.Stats{
		Logs:    s.logs.len(),
		Metrics: s.metrics.len(),
		Traces:  s.traces.len(),
		Spans:   s.traces.spanLen(),
	}, nil
}

// limitOf resolves a filter limit to an effective cap.
func limitOf(limit int) int {
	if limit <= 0 {
		return store.DefaultQueryLimit
	}
	return limit
}

// pruneIndex drops ids no longer alive from every bucket and removes empty
// buckets.
func pruneIndex[V any](index map[string][]uint64, alive map[uint64]V) {
	for key, ids := range index {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := alive[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(index, key)
			continue
		}
		index[key] = kept
	}
}
