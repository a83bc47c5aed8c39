// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package otlp

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

var (
	testTraceID = []byte{0x5b, 0x8e, 0xff, 0xf7, 0x98, 0x03, 0x81, 0x03, 0xd2, 0x69, 0xb6, 0x33, 0x81, 0x3f, 0xc6, 0x0c}
	testSpanID  = []byte{0xee, 0xe1, 0x9b, 0x7e, 0xc3, 0xc1, 0xb1, 0x74}
)

func TestConvertTraces(t *testing.T) {
	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	end := start.Add(150 * time.Millisecond)

	in := []*tracepb.ResourceSpans{{
		Resource: testResource("checkout"),
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{{
				TraceId:           testTraceID,
				SpanId:            testSpanID,
				Name:              "HTTP GET /checkout",
				Kind:              tracepb.Span_SPAN_KIND_SERVER,
				StartTimeUnixNano: uint64(start.UnixNano()),
				EndTimeUnixNano:   uint64(end.UnixNano()),
				Attributes:        []*commonpb.KeyValue{kv("http.status_code", intVal(200))},
				Status: &tracepb.Status{
					Code:    tracepb.Status_STATUS_CODE_ERROR,
					Message: "upstream timeout",
				},
				Events: []*tracepb.Span_Event{{
					Name:         "exception",
					TimeUnixNano: uint64(start.Add(100 * time.Millisecond).UnixNano()),
					Attributes:   []*commonpb.KeyValue{kv("exception.type", strVal("Timeout"))},
				}},
				Links: []*tracepb.Span_Link{{
					TraceId: testTraceID,
					SpanId:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
				}},
			}},
		}},
	}}

	spans, sum := ConvertTraces(in)
	assert.Equal(t, 1, sum.Accepted)
	assert.Equal(t, 0, sum.Rejected)
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "5b8efff798038103d269b633813fc60c", span.TraceID)
	assert.Equal(t, "eee19b7ec3c1b174", span.SpanID)
	assert.Empty(t, span.ParentSpanID)
	assert.Equal(t, "HTTP GET /checkout", span.Name)
	assert.Equal(t, start, span.StartTime)
	assert.Equal(t, end, span.EndTime)
	assert.Equal(t, 150*time.Millisecond, span.Duration)
	assert.Equal(t, int32(tracepb.Status_STATUS_CODE_ERROR), span.StatusCode)
	assert.Equal(t, "upstream timeout", span.StatusMessage)
	assert.Equal(t, int32(tracepb.Span_SPAN_KIND_SERVER), span.Kind)
	assert.Equal(t, "checkout", span.ServiceName)
	assert.Equal(t, int64(200), span.Attributes["http.status_code"])

	require.Len(t, span.Events, 1)
	assert.Equal(t, "exception", span.Events[0].Name)
	assert.Equal(t, "Timeout", span.Events[0].Attributes["exception.type"])
	// Event attributes stay local, no resource merge.
	assert.NotContains(t, span.Events[0].Attributes, "host.name")

	require.Len(t, span.Links, 1)
	assert.Equal(t, "5b8efff798038103d269b633813fc60c", span.Links[0].TraceID)
	assert.Equal(t, "0102030405060708", span.Links[0].SpanID)
}

func TestConvertTracesRejections(t *testing.T) {
	start := uint64(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC).UnixNano())
	zeroID := make([]byte, 16)

	tests := []struct {
		name string
		span *tracepb.Span
	}{
		{"nil span", nil},
		{"missing trace id", &tracepb.Span{SpanId: testSpanID, StartTimeUnixNano: start}},
		{"all-zero trace id", &tracepb.Span{TraceId: zeroID, SpanId: testSpanID, StartTimeUnixNano: start}},
		{"missing span id", &tracepb.Span{TraceId: testTraceID, StartTimeUnixNano: start}},
		{"missing start", &tracepb.Span{TraceId: testTraceID, SpanId: testSpanID}},
		{"start beyond int64 range", &tracepb.Span{TraceId: testTraceID, SpanId: testSpanID, StartTimeUnixNano: math.MaxUint64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := []*tracepb.ResourceSpans{{
				ScopeSpans: []*tracepb.ScopeSpans{{
					Spans: []*tracepb.Span{
						tt.span,
						{TraceId: testTraceID, SpanId: testSpanID, StartTimeUnixNano: start},
					},
				}},
			}}
			spans, sum := ConvertTraces(in)
			assert.Equal(t, 1, sum.Accepted)
			assert.Equal(t, 1, sum.Rejected)
			assert.NotEmpty(t, sum.FirstError)
			assert.Len(t, spans, 1)
		})
	}
}

func TestConvertTracesEndBeforeStartClamped(t *testing.T) {
	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	in := []*tracepb.ResourceSpans{{
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{{
				TraceId:           testTraceID,
				SpanId:            testSpanID,
				StartTimeUnixNano: uint64(start.UnixNano()),
				EndTimeUnixNano:   uint64(start.Add(-time.Second).UnixNano()),
			}},
		}},
	}}
	spans, sum := ConvertTraces(in)
	assert.Equal(t, 1, sum.Accepted)
	require.Len(t, spans, 1)
	assert.Equal(t, spans[0].StartTime, spans[0].EndTime)
	assert.Equal(t, time.Duration(0), spans[0].Duration)
}

func TestConvertTracesParentMarksChild(t *testing.T) {
	start := uint64(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC).UnixNano())
	in := []*tracepb.ResourceSpans{{
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{{
				TraceId:           testTraceID,
				SpanId:            []byte{9, 9, 9, 9, 9, 9, 9, 9},
				ParentSpanId:      testSpanID,
				StartTimeUnixNano: start,
			}},
		}},
	}}
	spans, _ := ConvertTraces(in)
	require.Len(t, spans, 1)
	assert.Equal(t, "eee19b7ec3c1b174", spans[0].ParentSpanID)
}
