// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telescope-obs/telescope/internal/fanout"
	"github.com/telescope-obs/telescope/internal/store"
)

// newMetricsHandler registers gauges over the store and hub state on a fresh
// registry and returns the scrape handler for /metrics.
func newMetricsHandler(st store.Store, hub *fanout.Hub) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	storeGauge := func(name, help string, read func(store.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "telescope",
			Subsystem: "store",
			Name:      name,
			Help:      help,
		}, func() float64 {
			stats, err := st.Stats(context.Background())
			if err != nil {
				return 0
			}
			return float64(read(stats))
		})
	}
	registry.MustRegister(
		storeGauge("logs", "Retained log records.", func(s store.Stats) int { return s.Logs }),
		storeGauge("metric_samples", "Retained metric samples.", func(s store.Stats) int { return s.Metrics }),
		storeGauge("traces", "Retained traces.", func(s store.Stats) int { return s.Traces }),
		storeGauge("spans", "Retained spans across all traces.", func(s store.Stats) int { return s.Spans }),
	)

	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "telescope",
			Subsystem: "stream",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}, func() float64 {
			return float64(hub.Stats().Connections)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "telescope",
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Envelopes dropped to slow consumers since start.",
		}, func() float64 {
			return float64(hub.Stats().Dropped)
		}),
	)

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
