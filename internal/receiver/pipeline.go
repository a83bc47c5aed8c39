// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package receiver

import (
	"context"

	"go.uber.org/zap"

	"github.com/telescope-obs/telescope/internal/fanout"
	"github.com/telescope-obs/telescope/internal/store"
	"github.com/telescope-obs/telescope/internal/telemetry"
)

// pipeline is the write path shared by both transports: store each accepted
// record, then hand it to the fan-out hub. Records keep the order of their
// batch; broadcasting never blocks.
type pipeline struct {
	store  store.Store
	hub    *fanout.Hub
	logger *zap.Logger
}

func (p *pipeline) consumeLogs(ctx context.Context, records []telemetry.LogRecord) error {
	for _, rec := range records {
		id, err := p.store.AddLog(ctx, rec)
		if err != nil {
			return err
		}
		rec.ID = id
		p.hub.Broadcast(fanout.ChannelLogs, rec)
	}
	return nil
}

func (p *pipeline) consumeMetrics(ctx context.Context, samples []telemetry.MetricSample) error {
	for _, sample := range samples {
		id, err := p.store.AddMetric(ctx, sample)
		if err != nil {
			return err
		}
		sample.ID = id
		p.hub.Broadcast(fanout.ChannelMetrics, sample)
	}
	return nil
}

func (p *pipeline) consumeSpans(ctx context.Context, spans []telemetry.TraceSpan) error {
	for _, span := range spans {
		if _, err := p.store.AddSpan(ctx, span); err != nil {
			return err
		}
		p.hub.Broadcast(fanout.ChannelTraces, span)
	}
	return nil
}
