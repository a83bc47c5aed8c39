// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the canonical record types produced by the OTLP
// protocol adapters and held by the store. Records are immutable once stored;
// they are the payloads delivered to streaming subscribers and the dashboard,
// so field names here are the wire contract for consumers.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity is the five-level log severity enum. OTLP's 1-24 severity-number
// scale is bucketed into these levels at conversion time.
type Severity int

const (
	SeverityDebug Severity = iota + 1
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityFatal
)

var severityNames = map[Severity]string{
	SeverityDebug: "debug",
	SeverityInfo:  "info",
	SeverityWarn:  "warn",
	SeverityError: "error",
	SeverityFatal: "fatal",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity maps a case-insensitive level name to its Severity. Unknown
// names map to SeverityInfo.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return SeverityDebug
	case "info", "information":
		return SeverityInfo
	case "warn", "warning":
		return SeverityWarn
	case "error":
		return SeverityError
	case "fatal", "critical":
		return SeverityFatal
	}
	return SeverityInfo
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseSeverity(name)
	return nil
}

// Resource describes the entity that produced a record, extracted from OTLP
// resource attributes.
type Resource struct {
	ServiceName    string `json:"serviceName"`
	ServiceVersion string `json:"serviceVersion,omitempty"`
	Environment    string `json:"environment,omitempty"`
}

// LogRecord is one ingested log entry. ID is assigned by the store.
type LogRecord struct {
	ID          uint64         `json:"id"`
	TraceID     string         `json:"traceId,omitempty"`
	SpanID      string         `json:"spanId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Severity    Severity       `json:"severity"`
	ServiceName string         `json:"serviceName"`
	Body        string         `json:"body"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Resource    *Resource      `json:"resource,omitempty"`
}

// MetricKind classifies a metric sample.
type MetricKind string

const (
	MetricKindGauge     MetricKind = "gauge"
	MetricKindCounter   MetricKind = "counter"
	MetricKindSum       MetricKind = "sum"
	MetricKindHistogram MetricKind = "histogram"
)

// AggregateAttrKey tags samples expanded from histogram, exponential
// histogram and summary data points with the component they carry
// (count, sum, min, max, quantile:<q>).
const AggregateAttrKey = "aggregate"

// MetricSample is one ingested metric value. A single OTLP data point may
// expand into several samples sharing attributes; no aggregation across
// samples happens after ingestion.
type MetricSample struct {
	ID          uint64         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Unit        string         `json:"unit,omitempty"`
	Value       float64        `json:"value"`
	Kind        MetricKind     `json:"kind"`
	Timestamp   time.Time      `json:"timestamp"`
	ServiceName string         `json:"serviceName"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// SpanEvent is a timed annotation on a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SpanLink references a span in another trace.
type SpanLink struct {
	TraceID string `json:"traceId"`
	SpanID  string `json:"spanId"`
}

// TraceSpan is one timed operation within a trace. Trace, span and parent
// identifiers are canonical lowercase hex; an empty ParentSpanID marks a
// root span.
type TraceSpan struct {
	TraceID       string         `json:"traceId"`
	SpanID        string         `json:"spanId"`
	ParentSpanID  string         `json:"parentSpanId,omitempty"`
	Name          string         `json:"name"`
	StartTime     time.Time      `json:"startTime"`
	EndTime       time.Time      `json:"endTime"`
	Duration      time.Duration  `json:"duration"`
	StatusCode    int32          `json:"statusCode"`
	StatusMessage string         `json:"statusMessage,omitempty"`
	Kind          int32          `json:"kind"`
	ServiceName   string         `json:"serviceName"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	Events        []SpanEvent    `json:"events,omitempty"`
	Links         []SpanLink     `json:"links,omitempty"`
}

// Trace is the set of retained spans sharing one trace id, ordered by start
// time.
type Trace struct {
	TraceID string      `json:"traceId"`
	Spans   []TraceSpan `json:"spans"`
}

// RootSpan returns the span with no parent, or the earliest-starting span
// when no parentless span was retained. ok is false for an empty trace.
func (t Trace) RootSpan() (TraceSpan, bool) {
	if len(t.Spans) == 0 {
		return TraceSpan{}, false
	}
	root := t.Spans[0]
	found := root.ParentSpanID == ""
	for _, s := range t.Spans[1:] {
		if s.ParentSpanID == "" {
			if !found || s.StartTime.Before(root.StartTime) {
				root = s
				found = true
			}
			continue
		}
		if !found && s.StartTime.Before(root.StartTime) {
			root = s
		}
	}
	return root, true
}

// TraceSummary is the listing form of a trace.
type TraceSummary struct {
	TraceID      string        `json:"traceId"`
	RootName     string        `json:"rootName"`
	RootService  string        `json:"rootService"`
	StartTime    time.Time     `json:"startTime"`
	Duration     time.Duration `json:"duration"`
	SpanCount    int           `json:"spanCount"`
	ServiceNames []string      `json:"serviceNames"`
}

// Summarize builds a TraceSummary from retained spans. The summary start is
// the earliest span start and the duration runs from it to the latest span
// end.
func (t Trace) Summarize() TraceSummary {
	sum := TraceSummary{TraceID: t.TraceID, SpanCount: len(t.Spans)}
	if len(t.Spans) == 0 {
		return sum
	}
	root, _ := t.RootSpan()
	sum.RootName = root.Name
	sum.RootService = root.ServiceName

	start := t.Spans[0].StartTime
	end := t.Spans[0].EndTime
	services := make(map[string]struct{}, 1)
	for _, s := range t.Spans {
		if s.StartTime.Before(start) {
			start = s.StartTime
		}
		if s.EndTime.After(end) {
			end = s.EndTime
		}
		services[s.ServiceName] = struct{}{}
	}
	sum.StartTime = start
	if end.After(start) {
		sum.Duration = end.Sub(start)
	}
	sum.ServiceNames = make([]string, 0, len(services))
	for name := range services {
		sum.ServiceNames = append(sum.ServiceNames, name)
	}
	sort.Strings(sum.ServiceNames)
	return sum
}
