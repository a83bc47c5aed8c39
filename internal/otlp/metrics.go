// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package otlp

import (
	"errors"
	"strconv"
	"time"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/telescope-obs/telescope/internal/telemetry"
)

var (
	errNilMetric    = errors.New("nil metric")
	errMetricNoName = errors.New("metric missing name")
	errMetricNoData = errors.New("metric missing data")
)

// ConvertMetrics flattens an OTLP resource/scope/metric hierarchy into
// canonical samples. Histogram, exponential histogram and summary data points
// expand into several samples sharing attributes plus an aggregate
// discriminator; the returned summary counts data points, not expanded
// samples.
func ConvertMetrics(resourceMetrics []*metricspb.ResourceMetrics) ([]telemetry.MetricSample, Summary) {
	var (
		samples []telemetry.MetricSample
		sum     Summary
	)
	for _, rm := range resourceMetrics {
		for _, sm := range rm.GetScopeMetrics() {
			rs := newResourceScope(rm.GetResource(), sm.GetScope())
			for _, metric := range sm.GetMetrics() {
				expanded, err := convertMetric(rs, metric, &sum)
				if err != nil {
					sum.reject(err)
					continue
				}
				samples = append(samples, expanded...)
			}
		}
	}
	return samples, sum
}

// base is the per-metric template each data point stamps with its own
// timestamp, value and attributes.
type metricBase struct {
	rs   resourceScope
	name string
	desc string
	unit string
	kind telemetry.MetricKind
}

func (b metricBase) sample(nanos uint64, value float64, attrs map[string]any) telemetry.MetricSample {
	ts := unixNanos(nanos)
	if ts.IsZero() {
		ts = time.Now().UTC().Truncate(time.Millisecond)
	}
	return telemetry.MetricSample{
		Name:        b.name,
		Description: b.desc,
		Unit:        b.unit,
		Value:       value,
		Kind:        b.kind,
		Timestamp:   ts,
		ServiceName: b.rs.serviceName,
		Attributes:  attrs,
	}
}

func convertMetric(rs resourceScope, metric *metricspb.Metric, sum *Summary) ([]telemetry.MetricSample, error) {
	if metric == nil {
		return nil, errNilMetric
	}
	if metric.GetName() == "" {
		return nil, errMetricNoName
	}

	base := metricBase{
		rs:   rs,
		name: metric.GetName(),
		desc: metric.GetDescription(),
		unit: metric.GetUnit(),
	}

	var samples []telemetry.MetricSample
	switch data := metric.GetData().(type) {
	case *metricspb.Metric_Gauge:
		base.kind = telemetry.MetricKindGauge
		for _, dp := range data.Gauge.GetDataPoints() {
			samples = append(samples, base.sample(dp.GetTimeUnixNano(), numberValue(dp), rs.itemAttrs(dp.GetAttributes())))
			sum.accept()
		}
	case *metricspb.Metric_Sum:
		if data.Sum.GetIsMonotonic() {
			base.kind = telemetry.MetricKindCounter
		} else {
			base.kind = telemetry.MetricKindSum
		}
		for _, dp := range data.Sum.GetDataPoints() {
			samples = append(samples, base.sample(dp.GetTimeUnixNano(), numberValue(dp), rs.itemAttrs(dp.GetAttributes())))
			sum.accept()
		}
	case *metricspb.Metric_Histogram:
		base.kind = telemetry.MetricKindHistogram
		for _, dp := range data.Histogram.GetDataPoints() {
			samples = append(samples, expandHistogram(base, dp)...)
			sum.accept()
		}
	case *metricspb.Metric_ExponentialHistogram:
		base.kind = telemetry.MetricKindHistogram
		for _, dp := range data.ExponentialHistogram.GetDataPoints() {
			samples = append(samples, expandExponentialHistogram(base, dp)...)
			sum.accept()
		}
	case *metricspb.Metric_Summary:
		base.kind = telemetry.MetricKindHistogram
		for _, dp := range data.Summary.GetDataPoints() {
			samples = append(samples, expandSummary(base, dp)...)
			sum.accept()
		}
	default:
		return nil, errMetricNoData
	}
	return samples, nil
}

func numberValue(dp *metricspb.NumberDataPoint) float64 {
	switch v := dp.GetValue().(type) {
	case *metricspb.NumberDataPoint_AsDouble:
		return v.AsDouble
	case *metricspb.NumberDataPoint_AsInt:
		return float64(v.AsInt)
	default:
		return 0
	}
}

// withAggregate stamps the expansion discriminator over a copy of the data
// point attributes.
func withAggregate(kvs map[string]any, aggregate string) map[string]any {
	out := make(map[string]any, len(kvs)+1)
	for k, v := range kvs {
		out[k] = v
	}
	out[telemetry.AggregateAttrKey] = aggregate
	return out
}

func expandHistogram(base metricBase, dp *metricspb.HistogramDataPoint) []telemetry.MetricSample {
	attrs := base.rs.itemAttrs(dp.GetAttributes())
	nanos := dp.GetTimeUnixNano()

	samples := []telemetry.MetricSample{
		base.sample(nanos, float64(dp.GetCount()), withAggregate(attrs, "count")),
	}
	if dp.Sum != nil {
		samples = append(samples, base.sample(nanos, dp.GetSum(), withAggregate(attrs, "sum")))
	}
	if dp.Min != nil {
		samples = append(samples, base.sample(nanos, dp.GetMin(), withAggregate(attrs, "min")))
	}
	if dp.Max != nil {
		samples = append(samples, base.sample(nanos, dp.GetMax(), withAggregate(attrs, "max")))
	}
	return samples
}

func expandExponentialHistogram(base metricBase, dp *metricspb.ExponentialHistogramDataPoint) []telemetry.MetricSample {
	attrs := base.rs.itemAttrs(dp.GetAttributes())
	nanos := dp.GetTimeUnixNano()

	samples := []telemetry.MetricSample{
		base.sample(nanos, float64(dp.GetCount()), withAggregate(attrs, "count")),
	}
	if dp.Sum != nil {
		samples = append(samples, base.sample(nanos, dp.GetSum(), withAggregate(attrs, "sum")))
	}
	if dp.Min != nil {
		samples = append(samples, base.sample(nanos, dp.GetMin(), withAggregate(attrs, "min")))
	}
	if dp.Max != nil {
		samples = append(samples, base.sample(nanos, dp.GetMax(), withAggregate(attrs, "max")))
	}
	return samples
}

func expandSummary(base metricBase, dp *metricspb.SummaryDataPoint) []telemetry.MetricSample {
	attrs := base.rs.itemAttrs(dp.GetAttributes())
	nanos := dp.GetTimeUnixNano()

	samples := []telemetry.MetricSample{
		base.sample(nanos, float64(dp.GetCount()), withAggregate(attrs, "count")),
		base.sample(nanos, dp.GetSum(), withAggregate(attrs, "sum")),
	}
	for _, q := range dp.GetQuantileValues() {
		aggregate := "quantile:" + strconv.FormatFloat(q.GetQuantile(), 'g', -1, 64)
		samples = append(samples, base.sample(nanos, q.GetValue(), withAggregate(attrs, aggregate)))
	}
	return samples
}
