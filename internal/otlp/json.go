// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package otlp

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// The OTLP/JSON envelope is decoded through a typed mirror of the protobuf
// messages rather than dynamic lookups. Fields that proto3 JSON renders
// flexibly are handled explicitly: 64-bit timestamps and counts arrive as a
// number or a numeric string, identifiers arrive as hex strings, and enums
// arrive as a number or their proto name. A field that fails its own parse
// decodes to its zero value so that only the item carrying it is rejected by
// the conversion pass, never the whole batch.

// flexUint64 accepts a JSON number or a numeric string.
type flexUint64 uint64

func (n *flexUint64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexUint64(v)
	return nil
}

// flexInt64 accepts a JSON number or a numeric string.
type flexInt64 int64

func (n *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt64(v)
	return nil
}

// hexBytes decodes a hex-encoded identifier, case-insensitively. Invalid hex
// decodes to nil (an absent id), leaving rejection to the conversion pass.
type hexBytes []byte

func (b *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*b = nil
		return nil
	}
	raw, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		*b = nil
		return nil
	}
	*b = raw
	return nil
}

// enumOrNumber accepts a proto enum as its number or its prefixed name,
// e.g. 17 or "SEVERITY_NUMBER_ERROR".
type enumOrNumber struct {
	number int32
	name   string
}

func (e *enumOrNumber) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		e.name = name
		return nil
	}
	var n flexInt64
	_ = n.UnmarshalJSON(data)
	e.number = int32(n)
	return nil
}

func (e enumOrNumber) resolve(valueByName map[string]int32) int32 {
	if e.name == "" {
		return e.number
	}
	return valueByName[e.name]
}

type jsonKeyValue struct {
	Key   string       `json:"key"`
	Value jsonAnyValue `json:"value"`
}

type jsonArrayValue struct {
	Values []jsonAnyValue `json:"values"`
}

type jsonKeyValueList struct {
	Values []jsonKeyValue `json:"values"`
}

type jsonAnyValue struct {
	StringValue *string           `json:"stringValue"`
	BoolValue   *bool             `json:"boolValue"`
	IntValue    *flexInt64        `json:"intValue"`
	DoubleValue *float64          `json:"doubleValue"`
	ArrayValue  *jsonArrayValue   `json:"arrayValue"`
	KvlistValue *jsonKeyValueList `json:"kvlistValue"`
	BytesValue  *string           `json:"bytesValue"`
}

func (v jsonAnyValue) toPB() *commonpb.AnyValue {
	switch {
	case v.StringValue != nil:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: *v.StringValue}}
	case v.BoolValue != nil:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: *v.BoolValue}}
	case v.IntValue != nil:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(*v.IntValue)}}
	case v.DoubleValue != nil:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: *v.DoubleValue}}
	case v.ArrayValue != nil:
		arr := &commonpb.ArrayValue{}
		for _, item := range v.ArrayValue.Values {
			arr.Values = append(arr.Values, item.toPB())
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: arr}}
	case v.KvlistValue != nil:
		kvl := &commonpb.KeyValueList{Values: kvsToPB(v.KvlistValue.Values)}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_KvlistValue{KvlistValue: kvl}}
	case v.BytesValue != nil:
		raw, err := base64.StdEncoding.DecodeString(*v.BytesValue)
		if err != nil {
			return nil
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BytesValue{BytesValue: raw}}
	default:
		return nil
	}
}

func kvsToPB(kvs []jsonKeyValue) []*commonpb.KeyValue {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]*commonpb.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, &commonpb.KeyValue{Key: kv.Key, Value: kv.Value.toPB()})
	}
	return out
}

type jsonResource struct {
	Attributes []jsonKeyValue `json:"attributes"`
}

func (r *jsonResource) toPB() *resourcepb.Resource {
	if r == nil {
		return nil
	}
	return &resourcepb.Resource{Attributes: kvsToPB(r.Attributes)}
}

type jsonScope struct {
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	Attributes []jsonKeyValue `json:"attributes"`
}

func (s *jsonScope) toPB() *commonpb.InstrumentationScope {
	if s == nil {
		return nil
	}
	return &commonpb.InstrumentationScope{
		Name:       s.Name,
		Version:    s.Version,
		Attributes: kvsToPB(s.Attributes),
	}
}

// ---- logs ----

type jsonLogsRequest struct {
	ResourceLogs []jsonResourceLogs `json:"resourceLogs"`
}

type jsonResourceLogs struct {
	Resource  *jsonResource   `json:"resource"`
	ScopeLogs []jsonScopeLogs `json:"scopeLogs"`
}

type jsonScopeLogs struct {
	Scope      *jsonScope      `json:"scope"`
	LogRecords []jsonLogRecord `json:"logRecords"`
}

type jsonLogRecord struct {
	TimeUnixNano         flexUint64     `json:"timeUnixNano"`
	ObservedTimeUnixNano flexUint64     `json:"observedTimeUnixNano"`
	SeverityNumber       enumOrNumber   `json:"severityNumber"`
	SeverityText         string         `json:"severityText"`
	Body                 *jsonAnyValue  `json:"body"`
	Attributes           []jsonKeyValue `json:"attributes"`
	TraceID              hexBytes       `json:"traceId"`
	SpanID               hexBytes       `json:"spanId"`
}

// UnmarshalLogsJSON decodes an OTLP/JSON logs export body into the protobuf
// envelope shared with the gRPC path.
func UnmarshalLogsJSON(data []byte) ([]*logspb.ResourceLogs, error) {
	var req jsonLogsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	out := make([]*logspb.ResourceLogs, 0, len(req.ResourceLogs))
	for _, rl := range req.ResourceLogs {
		pbRL := &logspb.ResourceLogs{Resource: rl.Resource.toPB()}
		for _, sl := range rl.ScopeLogs {
			pbSL := &logspb.ScopeLogs{Scope: sl.Scope.toPB()}
			for _, lr := range sl.LogRecords {
				pbLR := &logspb.LogRecord{
					TimeUnixNano:         uint64(lr.TimeUnixNano),
					ObservedTimeUnixNano: uint64(lr.ObservedTimeUnixNano),
					SeverityNumber:       logspb.SeverityNumber(lr.SeverityNumber.resolve(logspb.SeverityNumber_value)),
					SeverityText:         lr.SeverityText,
					Attributes:           kvsToPB(lr.Attributes),
					TraceId:              lr.TraceID,
					SpanId:               lr.SpanID,
				}
				if lr.Body != nil {
					pbLR.Body = lr.Body.toPB()
				}
				pbSL.LogRecords = append(pbSL.LogRecords, pbLR)
			}
			pbRL.ScopeLogs = append(pbRL.ScopeLogs, pbSL)
		}
		out = append(out, pbRL)
	}
	return out, nil
}

// ---- traces ----

type jsonTracesRequest struct {
	ResourceSpans []jsonResourceSpans `json:"resourceSpans"`
}

type jsonResourceSpans struct {
	Resource   *jsonResource    `json:"resource"`
	ScopeSpans []jsonScopeSpans `json:"scopeSpans"`
}

type jsonScopeSpans struct {
	Scope *jsonScope `json:"scope"`
	Spans []jsonSpan `json:"spans"`
}

type jsonSpan struct {
	TraceID           hexBytes        `json:"traceId"`
	SpanID            hexBytes        `json:"spanId"`
	ParentSpanID      hexBytes        `json:"parentSpanId"`
	Name              string          `json:"name"`
	Kind              enumOrNumber    `json:"kind"`
	StartTimeUnixNano flexUint64      `json:"startTimeUnixNano"`
	EndTimeUnixNano   flexUint64      `json:"endTimeUnixNano"`
	Attributes        []jsonKeyValue  `json:"attributes"`
	Events            []jsonSpanEvent `json:"events"`
	Links             []jsonSpanLink  `json:"links"`
	Status            *jsonSpanStatus `json:"status"`
}

type jsonSpanEvent struct {
	TimeUnixNano flexUint64     `json:"timeUnixNano"`
	Name         string         `json:"name"`
	Attributes   []jsonKeyValue `json:"attributes"`
}

type jsonSpanLink struct {
	TraceID hexBytes `json:"traceId"`
	SpanID  hexBytes `json:"spanId"`
}

type jsonSpanStatus struct {
	Message string       `json:"message"`
	Code    enumOrNumber `json:"code"`
}

// UnmarshalTracesJSON decodes an OTLP/JSON traces export body.
func UnmarshalTracesJSON(data []byte) ([]*tracepb.ResourceSpans, error) {
	var req jsonTracesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	out := make([]*tracepb.ResourceSpans, 0, len(req.ResourceSpans))
	for _, rsp := range req.ResourceSpans {
		pbRS := &tracepb.ResourceSpans{Resource: rsp.Resource.toPB()}
		for _, ss := range rsp.ScopeSpans {
			pbSS := &tracepb.ScopeSpans{Scope: ss.Scope.toPB()}
			for _, span := range ss.Spans {
				pbSpan := &tracepb.Span{
					TraceId:           span.TraceID,
					SpanId:            span.SpanID,
					ParentSpanId:      span.ParentSpanID,
					Name:              span.Name,
					Kind:              tracepb.Span_SpanKind(span.Kind.resolve(tracepb.Span_SpanKind_value)),
					StartTimeUnixNano: uint64(span.StartTimeUnixNano),
					EndTimeUnixNano:   uint64(span.EndTimeUnixNano),
					Attributes:        kvsToPB(span.Attributes),
				}
				for _, ev := range span.Events {
					pbSpan.Events = append(pbSpan.Events, &tracepb.Span_Event{
						TimeUnixNano: uint64(ev.TimeUnixNano),
						Name:         ev.Name,
						Attributes:   kvsToPB(ev.Attributes),
					})
				}
				for _, link := range span.Links {
					pbSpan.Links = append(pbSpan.Links, &tracepb.Span_Link{
						TraceId: link.TraceID,
						SpanId:  link.SpanID,
					})
				}
				if span.Status != nil {
					pbSpan.Status = &tracepb.Status{
						Message: span.Status.Message,
						Code:    tracepb.Status_StatusCode(span.Status.Code.resolve(tracepb.Status_StatusCode_value)),
					}
				}
				pbSS.Spans = append(pbSS.Spans, pbSpan)
			}
			pbRS.ScopeSpans = append(pbRS.ScopeSpans, pbSS)
		}
		out = append(out, pbRS)
	}
	return out, nil
}

// ---- metrics ----

type jsonMetricsRequest struct {
	ResourceMetrics []jsonResourceMetrics `json:"resourceMetrics"`
}

type jsonResourceMetrics struct {
	Resource     *jsonResource      `json:"resource"`
	ScopeMetrics []jsonScopeMetrics `json:"scopeMetrics"`
}

type jsonScopeMetrics struct {
	Scope   *jsonScope   `json:"scope"`
	Metrics []jsonMetric `json:"metrics"`
}

type jsonMetric struct {
	Name                 string             `json:"name"`
	Description          string             `json:"description"`
	Unit                 string             `json:"unit"`
	Gauge                *jsonNumberPoints  `json:"gauge"`
	Sum                  *jsonSum           `json:"sum"`
	Histogram            *jsonHistogram     `json:"histogram"`
	ExponentialHistogram *jsonExpoHistogram `json:"exponentialHistogram"`
	Summary              *jsonSummaryMetric `json:"summary"`
}

type jsonNumberPoints struct {
	DataPoints []jsonNumberPoint `json:"dataPoints"`
}

type jsonSum struct {
	DataPoints  []jsonNumberPoint `json:"dataPoints"`
	IsMonotonic bool              `json:"isMonotonic"`
}

type jsonNumberPoint struct {
	Attributes   []jsonKeyValue `json:"attributes"`
	TimeUnixNano flexUint64     `json:"timeUnixNano"`
	AsDouble     *float64       `json:"asDouble"`
	AsInt        *flexInt64     `json:"asInt"`
}

func (p jsonNumberPoint) toPB() *metricspb.NumberDataPoint {
	dp := &metricspb.NumberDataPoint{
		Attributes:   kvsToPB(p.Attributes),
		TimeUnixNano: uint64(p.TimeUnixNano),
	}
	switch {
	case p.AsDouble != nil:
		dp.Value = &metricspb.NumberDataPoint_AsDouble{AsDouble: *p.AsDouble}
	case p.AsInt != nil:
		dp.Value = &metricspb.NumberDataPoint_AsInt{AsInt: int64(*p.AsInt)}
	}
	return dp
}

type jsonHistogram struct {
	DataPoints []jsonHistogramPoint `json:"dataPoints"`
}

type jsonHistogramPoint struct {
	Attributes   []jsonKeyValue `json:"attributes"`
	TimeUnixNano flexUint64     `json:"timeUnixNano"`
	Count        flexUint64     `json:"count"`
	Sum          *float64       `json:"sum"`
	Min          *float64       `json:"min"`
	Max          *float64       `json:"max"`
}

type jsonExpoHistogram struct {
	DataPoints []jsonHistogramPoint `json:"dataPoints"`
}

type jsonSummaryMetric struct {
	DataPoints []jsonSummaryPoint `json:"dataPoints"`
}

type jsonSummaryPoint struct {
	Attributes     []jsonKeyValue      `json:"attributes"`
	TimeUnixNano   flexUint64          `json:"timeUnixNano"`
	Count          flexUint64          `json:"count"`
	Sum            float64             `json:"sum"`
	QuantileValues []jsonQuantileValue `json:"quantileValues"`
}

type jsonQuantileValue struct {
	Quantile float64 `json:"quantile"`
	Value    float64 `json:"value"`
}

// UnmarshalMetricsJSON decodes an OTLP/JSON metrics export body. Bucket
// layouts of histogram points are not carried; only the fields the store
// models (count, sum, min, max, quantiles) survive the decode.
func UnmarshalMetricsJSON(data []byte) ([]*metricspb.ResourceMetrics, error) {
	var req jsonMetricsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	out := make([]*metricspb.ResourceMetrics, 0, len(req.ResourceMetrics))
	for _, rm := range req.ResourceMetrics {
		pbRM := &metricspb.ResourceMetrics{Resource: rm.Resource.toPB()}
		for _, sm := range rm.ScopeMetrics {
			pbSM := &metricspb.ScopeMetrics{Scope: sm.Scope.toPB()}
			for _, m := range sm.Metrics {
				pbSM.Metrics = append(pbSM.Metrics, metricToPB(m))
			}
			pbRM.ScopeMetrics = append(pbRM.ScopeMetrics, pbSM)
		}
		out = append(out, pbRM)
	}
	return out, nil
}

func metricToPB(m jsonMetric) *metricspb.Metric {
	pb := &metricspb.Metric{Name: m.Name, Description: m.Description, Unit: m.Unit}
	switch {
	case m.Gauge != nil:
		gauge := &metricspb.Gauge{}
		for _, p := range m.Gauge.DataPoints {
			gauge.DataPoints = append(gauge.DataPoints, p.toPB())
		}
		pb.Data = &metricspb.Metric_Gauge{Gauge: gauge}
	case m.Sum != nil:
		sum := &metricspb.Sum{IsMonotonic: m.Sum.IsMonotonic}
		for _, p := range m.Sum.DataPoints {
			sum.DataPoints = append(sum.DataPoints, p.toPB())
		}
		pb.Data = &metricspb.Metric_Sum{Sum: sum}
	case m.Histogram != nil:
		hist := &metricspb.Histogram{}
		for _, p := range m.Histogram.DataPoints {
			hist.DataPoints = append(hist.DataPoints, &metricspb.HistogramDataPoint{
				Attributes:   kvsToPB(p.Attributes),
				TimeUnixNano: uint64(p.TimeUnixNano),
				Count:        uint64(p.Count),
				Sum:          p.Sum,
				Min:          p.Min,
				Max:          p.Max,
			})
		}
		pb.Data = &metricspb.Metric_Histogram{Histogram: hist}
	case m.ExponentialHistogram != nil:
		hist := &metricspb.ExponentialHistogram{}
		for _, p := range m.ExponentialHistogram.DataPoints {
			hist.DataPoints = append(hist.DataPoints, &metricspb.ExponentialHistogramDataPoint{
				Attributes:   kvsToPB(p.Attributes),
				TimeUnixNano: uint64(p.TimeUnixNano),
				Count:        uint64(p.Count),
				Sum:          p.Sum,
				Min:          p.Min,
				Max:          p.Max,
			})
		}
		pb.Data = &metricspb.Metric_ExponentialHistogram{ExponentialHistogram: hist}
	case m.Summary != nil:
		summary := &metricspb.Summary{}
		for _, p := range m.Summary.DataPoints {
			dp := &metricspb.SummaryDataPoint{
				Attributes:   kvsToPB(p.Attributes),
				TimeUnixNano: uint64(p.TimeUnixNano),
				Count:        uint64(p.Count),
				Sum:          p.Sum,
			}
			for _, q := range p.QuantileValues {
				dp.QuantileValues = append(dp.QuantileValues, &metricspb.SummaryDataPoint_ValueAtQuantile{
					Quantile: q.Quantile,
					Value:    q.Value,
				})
			}
			summary.DataPoints = append(summary.DataPoints, dp)
		}
		pb.Data = &metricspb.Metric_Summary{Summary: summary}
	}
	return pb
}
