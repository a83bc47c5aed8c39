// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package otlp

import (
	"errors"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/telescope-obs/telescope/internal/telemetry"
)

var (
	errNilSpan       = errors.New("nil span")
	errSpanNoTraceID = errors.New("span missing trace id")
	errSpanNoSpanID  = errors.New("span missing span id")
	errSpanNoStart   = errors.New("span missing start timestamp")
)

// ConvertTraces flattens an OTLP resource/scope/span hierarchy into canonical
// spans. A span without a trace id, span id or start timestamp is rejected;
// its siblings are unaffected.
func ConvertTraces(resourceSpans []*tracepb.ResourceSpans) ([]telemetry.TraceSpan, Summary) {
	var (
		spans []telemetry.TraceSpan
		sum   Summary
	)
	for _, rsp := range resourceSpans {
		for _, ss := range rsp.GetScopeSpans() {
			rs := newResourceScope(rsp.GetResource(), ss.GetScope())
			for _, span := range ss.GetSpans() {
				converted, err := convertSpan(rs, span)
				if err != nil {
					sum.reject(err)
					continue
				}
				spans = append(spans, converted)
				sum.accept()
			}
		}
	}
	return spans, sum
}

func convertSpan(rs resourceScope, span *tracepb.Span) (telemetry.TraceSpan, error) {
	if span == nil {
		return telemetry.TraceSpan{}, errNilSpan
	}
	traceID := hexEncodeID(span.GetTraceId())
	if traceID == "" {
		return telemetry.TraceSpan{}, errSpanNoTraceID
	}
	spanID := hexEncodeID(span.GetSpanId())
	if spanID == "" {
		return telemetry.TraceSpan{}, errSpanNoSpanID
	}
	start := unixNanos(span.GetStartTimeUnixNano())
	if start.IsZero() {
		return telemetry.TraceSpan{}, errSpanNoStart
	}
	end := unixNanos(span.GetEndTimeUnixNano())
	if end.Before(start) {
		end = start
	}

	out := telemetry.TraceSpan{
		TraceID:       traceID,
		SpanID:        spanID,
		ParentSpanID:  hexEncodeID(span.GetParentSpanId()),
		Name:          span.GetName(),
		StartTime:     start,
		EndTime:       end,
		Duration:      end.Sub(start),
		StatusCode:    int32(span.GetStatus().GetCode()),
		StatusMessage: span.GetStatus().GetMessage(),
		Kind:          int32(span.GetKind()),
		ServiceName:   rs.serviceName,
		Attributes:    rs.itemAttrs(span.GetAttributes()),
	}

	for _, ev := range span.GetEvents() {
		out.Events = append(out.Events, telemetry.SpanEvent{
			Name:       ev.GetName(),
			Timestamp:  unixNanos(ev.GetTimeUnixNano()),
			Attributes: keyValuesToMap(ev.GetAttributes()),
		})
	}
	for _, link := range span.GetLinks() {
		out.Links = append(out.Links, telemetry.SpanLink{
			TraceID: hexEncodeID(link.GetTraceId()),
			SpanID:  hexEncodeID(link.GetSpanId()),
		})
	}
	return out, nil
}
