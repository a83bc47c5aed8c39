// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the storage contract for ingested telemetry.
//
// The default implementation is the bounded in-memory backend in the memstore
// subpackage. A durable key-value backend (partition key = service name, sort
// key = timestamp, TTL-expired) can satisfy the same interface for
// multi-instance deployments; callers depend only on the interface and the
// backend is selected at startup via configuration.
package store

import (
	"context"
	"time"

	"github.com/telescope-obs/telescope/internal/telemetry"
)

// DefaultQueryLimit caps result sets when a filter does not set a limit.
const DefaultQueryLimit = 100

// LogFilter selects log records. ServiceName and TraceID are indexed keys;
// the remaining fields are applied as a secondary pass.
type LogFilter struct {
	ServiceName string
	TraceID     string
	MinSeverity telemetry.Severity
	Since       time.Time
	Until       time.Time
	Limit       int
}

// MetricFilter selects metric samples. Name and ServiceName are indexed keys.
type MetricFilter struct {
	Name        string
	ServiceName string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// TraceFilter selects trace summaries. ServiceName is an indexed key;
// MinDuration and the time range are applied as a secondary pass.
type TraceFilter struct {
	ServiceName string
	MinDuration time.Duration
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Stats reports current collection sizes.
type Stats struct {
	Logs    int `json:"logs"`
	Metrics int `json:"metrics"`
	Traces  int `json:"traces"`
	Spans   int `json:"spans"`
}

// Store is the pluggable storage contract. Writes assign and return a
// monotonic record identifier. Queries return results newest-first, capped at
// the filter's limit (DefaultQueryLimit when unset). Implementations must be
// safe for concurrent use by many ingestion goroutines.
type Store interface {
	AddLog(ctx context.Context, rec telemetry.LogRecord) (uint64, error)
	AddMetric(ctx context.Context, sample telemetry.MetricSample) (uint64, error)
	AddSpan(ctx context.Context, span telemetry.TraceSpan) (uint64, error)

	QueryLogs(ctx context.Context, f LogFilter) ([]telemetry.LogRecord, error)
	QueryMetrics(ctx context.Context, f MetricFilter) ([]telemetry.MetricSample, error)
	QueryTraces(ctx context.Context, f TraceFilter) ([]telemetry.TraceSummary, error)

	// GetTrace returns all retained spans for one trace id, ordered by start
	// time. ok is false when no span for the id is retained.
	GetTrace(ctx context.Context, traceID string) (telemetry.Trace, bool, error)

	Stats(ctx context.Context) (Stats, error)
}
