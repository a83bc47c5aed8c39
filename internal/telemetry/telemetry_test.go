// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "debug", SeverityDebug.String())
	assert.Equal(t, "fatal", SeverityFatal.String())
	assert.Equal(t, "severity(9)", Severity(9).String())
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"debug", SeverityDebug},
		{"TRACE", SeverityDebug},
		{"info", SeverityInfo},
		{"  Warning ", SeverityWarn},
		{"error", SeverityError},
		{"CRITICAL", SeverityFatal},
		{"fatal", SeverityFatal},
		{"", SeverityInfo},
		{"bogus", SeverityInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSeverity(tt.in), "input %q", tt.in)
	}
}

func TestSeverityJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(SeverityWarn)
	require.NoError(t, err)
	assert.Equal(t, `"warn"`, string(data))

	var s Severity
	require.NoError(t, json.Unmarshal([]byte(`"error"`), &s))
	assert.Equal(t, SeverityError, s)
}

func TestRootSpanPrefersParentless(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	tr := Trace{TraceID: "t", Spans: []TraceSpan{
		{SpanID: "child", ParentSpanID: "root", StartTime: base},
		{SpanID: "root", StartTime: base.Add(time.Second)},
	}}
	root, ok := tr.RootSpan()
	require.True(t, ok)
	assert.Equal(t, "root", root.SpanID)
}

func TestRootSpanFallsBackToEarliest(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	tr := Trace{TraceID: "t", Spans: []TraceSpan{
		{SpanID: "late", ParentSpanID: "gone", StartTime: base.Add(time.Second)},
		{SpanID: "early", ParentSpanID: "gone", StartTime: base},
	}}
	root, ok := tr.RootSpan()
	require.True(t, ok)
	assert.Equal(t, "early", root.SpanID)
}

func TestRootSpanEmptyTrace(t *testing.T) {
	_, ok := Trace{TraceID: "t"}.RootSpan()
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	tr := Trace{TraceID: "t", Spans: []TraceSpan{
		{SpanID: "root", Name: "GET /", ServiceName: "api",
			StartTime: base, EndTime: base.Add(30 * time.Millisecond)},
		{SpanID: "child", ParentSpanID: "root", Name: "query", ServiceName: "db",
			StartTime: base.Add(5 * time.Millisecond), EndTime: base.Add(45 * time.Millisecond)},
	}}

	sum := tr.Summarize()
	assert.Equal(t, "t", sum.TraceID)
	assert.Equal(t, "GET /", sum.RootName)
	assert.Equal(t, "api", sum.RootService)
	assert.Equal(t, base, sum.StartTime)
	assert.Equal(t, 45*time.Millisecond, sum.Duration)
	assert.Equal(t, 2, sum.SpanCount)
	assert.Equal(t, []string{"api", "db"}, sum.ServiceNames)
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Trace{TraceID: "t"}.Summarize()
	assert.Equal(t, "t", sum.TraceID)
	assert.Zero(t, sum.SpanCount)
	assert.Empty(t, sum.ServiceNames)
}

func TestLogRecordJSONFieldNames(t *testing.T) {
	rec := LogRecord{
		ID:          1,
		TraceID:     "abc",
		Timestamp:   time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC),
		Severity:    SeverityInfo,
		ServiceName: "api",
		Body:        "hello",
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "traceId")
	assert.Contains(t, m, "serviceName")
	assert.Equal(t, "info", m["severity"])
	assert.NotContains(t, m, "spanId", "empty optional fields are omitted")
}
