// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	"github.com/telescope-obs/telescope/internal/telemetry"
)

// WithTTL wraps a Store so that queries never return items older than ttl.
// Capacity bounds of the wrapped store still apply; the wrapper only raises
// each filter's Since floor, it does not reclaim memory. A ttl of zero or
// less returns the store unchanged.
func WithTTL(inner Store, ttl time.Duration) Store {
	if ttl <= 0 {
		return inner
	}
	return &ttlStore{inner: inner, ttl: ttl, now: time.Now}
}

type ttlStore struct {
	inner Store
	ttl   time.Duration
	now   func() time.Time
}

func (s *ttlStore) floor() time.Time {
	return s.now().Add(-s.ttl)
}

func (s *ttlStore) AddLog(ctx context.Context, rec telemetry.LogRecord) (uint64, error) {
	return s.inner.AddLog(ctx, rec)
}

func (s *ttlStore) AddMetric(ctx context.Context, sample telemetry.MetricSample) (uint64, error) {
	return s.inner.AddMetric(ctx, sample)
}

func (s *ttlStore) AddSpan(ctx context.Context, span telemetry.TraceSpan) (uint64, error) {
	return s.inner.AddSpan(ctx, span)
}

func (s *ttlStore) QueryLogs(ctx context.Context, f LogFilter) ([]telemetry.LogRecord, error) {
	if floor := s.floor(); f.Since.Before(floor) {
		f.Since = floor
	}
	return s.inner.QueryLogs(ctx, f)
}

func (s *ttlStore) QueryMetrics(ctx context.Context, f MetricFilter) ([]telemetry.MetricSample, error) {
	if floor := s.floor(); f.Since.Before(floor) {
		f.Since = floor
	}
	return s.inner.QueryMetrics(ctx, f)
}

func (s *ttlStore) QueryTraces(ctx context.Context, f TraceFilter) ([]telemetry.TraceSummary, error) {
	if floor := s.floor(); f.Since.Before(floor) {
		f.Since = floor
	}
	return s.inner.QueryTraces(ctx, f)
}

// GetTrace is a point lookup by id and is served regardless of age; expiry
// only narrows range queries.
func (s *ttlStore) GetTrace(ctx context.Context, traceID string) (telemetry.Trace, bool, error) {
	return s.inner.GetTrace(ctx, traceID)
}

func (s *ttlStore) Stats(ctx context.Context) (Stats, error) {
	return s.inner.Stats(ctx)
}
