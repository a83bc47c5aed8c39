// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package otlp

import (
	"errors"
	"time"

	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/telescope-obs/telescope/internal/telemetry"
)

var errNilLogRecord = errors.New("nil log record")

// ConvertLogs flattens an OTLP resource/scope/log hierarchy into canonical
// log records. A malformed record is skipped and counted in the summary.
func ConvertLogs(resourceLogs []*logspb.ResourceLogs) ([]telemetry.LogRecord, Summary) {
	var (
		records []telemetry.LogRecord
		sum     Summary
	)
	for _, rl := range resourceLogs {
		for _, sl := range rl.GetScopeLogs() {
			rs := newResourceScope(rl.GetResource(), sl.GetScope())
			for _, lr := range sl.GetLogRecords() {
				rec, err := convertLogRecord(rs, lr)
				if err != nil {
					sum.reject(err)
					continue
				}
				records = append(records, rec)
				sum.accept()
			}
		}
	}
	return records, sum
}

func convertLogRecord(rs resourceScope, lr *logspb.LogRecord) (telemetry.LogRecord, error) {
	if lr == nil {
		return telemetry.LogRecord{}, errNilLogRecord
	}

	ts := unixNanos(lr.GetTimeUnixNano())
	if ts.IsZero() {
		ts = unixNanos(lr.GetObservedTimeUnixNano())
	}
	if ts.IsZero() {
		ts = time.Now().UTC().Truncate(time.Millisecond)
	}

	return telemetry.LogRecord{
		TraceID:     hexEncodeID(lr.GetTraceId()),
		SpanID:      hexEncodeID(lr.GetSpanId()),
		Timestamp:   ts,
		Severity:    mapSeverity(int32(lr.GetSeverityNumber()), lr.GetSeverityText()),
		ServiceName: rs.serviceName,
		Body:        anyToString(anyValueToAny(lr.GetBody())),
		Attributes:  rs.itemAttrs(lr.GetAttributes()),
		Resource:    rs.resource,
	}, nil
}

// mapSeverity buckets the OTLP 1-24 severity-number scale into the five-level
// enum. The 1-4 trace band folds into debug. Out-of-range numbers fall back
// to the severity text, then to info.
func mapSeverity(number int32, text string) telemetry.Severity {
	switch {
	case number >= 1 && number <= 8:
		return telemetry.SeverityDebug
	case number >= 9 && number <= 12:
		return telemetry.SeverityInfo
	case number >= 13 && number <= 16:
		return telemetry.SeverityWarn
	case number >= 17 && number <= 20:
		return telemetry.SeverityError
	case number >= 21 && number <= 24:
		return telemetry.SeverityFatal
	}
	return telemetry.ParseSeverity(text)
}
