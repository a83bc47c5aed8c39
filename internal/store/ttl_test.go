// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telescope-obs/telescope/internal/telemetry"
)

// captureStore records the filters it receives.
type captureStore struct {
	Store
	logFilter    LogFilter
	metricFilter MetricFilter
	traceFilter  TraceFilter
}

func (c *captureStore) QueryLogs(_ context.Context, f LogFilter) ([]telemetry.LogRecord, error) {
	c.logFilter = f
	return nil, nil
}

func (c *captureStore) QueryMetrics(_ context.Context, f MetricFilter) ([]telemetry.MetricSample, error) {
	c.metricFilter = f
	return nil, nil
}

func (c *captureStore) QueryTraces(_ context.Context, f TraceFilter) ([]telemetry.TraceSummary, error) {
	c.traceFilter = f
	return nil, nil
}

func (c *captureStore) GetTrace(_ context.Context, traceID string) (telemetry.Trace, bool, error) {
	return telemetry.Trace{TraceID: traceID}, true, nil
}

func TestWithTTLZeroReturnsInner(t *testing.T) {
	inner := &captureStore{}
	assert.Equal(t, Store(inner), WithTTL(inner, 0))
	assert.Equal(t, Store(inner), WithTTL(inner, -time.Minute))
}

func TestWithTTLRaisesSinceFloor(t *testing.T) {
	inner := &captureStore{}
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	wrapped := WithTTL(inner, time.Hour).(*ttlStore)
	wrapped.now = func() time.Time { return now }
	ctx := context.Background()
	floor := now.Add(-time.Hour)

	_, err := wrapped.QueryLogs(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Equal(t, floor, inner.logFilter.Since)

	_, err = wrapped.QueryMetrics(ctx, MetricFilter{})
	require.NoError(t, err)
	assert.Equal(t, floor, inner.metricFilter.Since)

	_, err = wrapped.QueryTraces(ctx, TraceFilter{})
	require.NoError(t, err)
	assert.Equal(t, floor, inner.traceFilter.Since)
}

func TestWithTTLKeepsNarrowerSince(t *testing.T) {
	inner := &captureStore{}
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	wrapped := WithTTL(inner, time.Hour).(*ttlStore)
	wrapped.now = func() time.Time { return now }

	narrower := now.Add(-10 * time.Minute)
	_, err := wrapped.QueryLogs(context.Background(), LogFilter{Since: narrower})
	require.NoError(t, err)
	assert.Equal(t, narrower, inner.logFilter.Since)
}

func TestWithTTLGetTracePassesThrough(t *testing.T) {
	inner := &captureStore{}
	wrapped := WithTTL(inner, time.Hour)

	tr, ok, err := wrapped.GetTrace(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", tr.TraceID)
}
