// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package otlp converts OTLP wire payloads into canonical telemetry records.
//
// The conversion core operates on the standard OTLP protobuf messages, item
// by item: a malformed item is skipped and counted, never failing its
// siblings. The HTTP/JSON envelope is decoded by a typed mirror of the same
// messages (json.go) so both transports share one conversion path.
package otlp

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/telescope-obs/telescope/internal/telemetry"
)

// Reserved attribute keys copied from the OTLP scope onto every item beneath
// it, and the resource attribute keys lifted into the Resource descriptor.
const (
	scopeNameKey    = "otel.scope.name"
	scopeVersionKey = "otel.scope.version"

	serviceNameKey    = "service.name"
	serviceVersionKey = "service.version"
	environmentKey    = "deployment.environment"
)

// unknownService is the service name used when the resource carries none,
// mirroring the OpenTelemetry SDK default.
const unknownService = "unknown_service"

// Summary reports a batch conversion outcome for the OTLP partial-success
// response: how many items were accepted, how many were rejected, and the
// first rejection message.
type Summary struct {
	Accepted   int
	Rejected   int
	FirstError string
}

func (s *Summary) accept() {
	s.Accepted++
}

func (s *Summary) reject(err error) {
	s.Rejected++
	if s.FirstError == "" && err != nil {
		s.FirstError = err.Error()
	}
}

// resourceScope carries the per-resource and per-scope context applied to
// every item of a scope batch.
type resourceScope struct {
	resource    *telemetry.Resource
	serviceName string
	attrs       map[string]any
}

// newResourceScope flattens resource attributes and the scope identity into
// the attribute base for items under this scope. Resource attribute keys
// lifted into the Resource descriptor are not duplicated in the map.
func newResourceScope(res *resourcepb.Resource, scope *commonpb.InstrumentationScope) resourceScope {
	rs := resourceScope{serviceName: unknownService, attrs: map[string]any{}}

	var desc telemetry.Resource
	for _, kv := range res.GetAttributes() {
		val := anyValueToAny(kv.GetValue())
		switch kv.GetKey() {
		case serviceNameKey:
			desc.ServiceName = anyToString(val)
		case serviceVersionKey:
			desc.ServiceVersion = anyToString(val)
		case environmentKey:
			desc.Environment = anyToString(val)
		default:
			rs.attrs[kv.GetKey()] = val
		}
	}
	if desc.ServiceName != "" {
		rs.serviceName = desc.ServiceName
	} else {
		desc.ServiceName = unknownService
	}
	rs.resource = &desc

	if name := scope.GetName(); name != "" {
		rs.attrs[scopeNameKey] = name
	}
	if version := scope.GetVersion(); version != "" {
		rs.attrs[scopeVersionKey] = version
	}
	return rs
}

// itemAttrs merges item attributes over the resource/scope base. The base is
// never mutated.
func (rs resourceScope) itemAttrs(kvs []*commonpb.KeyValue) map[string]any {
	if len(rs.attrs) == 0 && len(kvs) == 0 {
		return nil
	}
	merged := make(map[string]any, len(rs.attrs)+len(kvs))
	for k, v := range rs.attrs {
		merged[k] = v
	}
	for _, kv := range kvs {
		merged[kv.GetKey()] = anyValueToAny(kv.GetValue())
	}
	return merged
}

// keyValuesToMap converts a bare attribute list, without any resource or
// scope merge. Used for span events, whose attributes stay local.
func keyValuesToMap(kvs []*commonpb.KeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	m := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		m[kv.GetKey()] = anyValueToAny(kv.GetValue())
	}
	return m
}

func anyValueToAny(v *commonpb.AnyValue) any {
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_BoolValue:
		return val.BoolValue
	case *commonpb.AnyValue_IntValue:
		return val.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return val.DoubleValue
	case *commonpb.AnyValue_ArrayValue:
		items := make([]any, 0, len(val.ArrayValue.GetValues()))
		for _, item := range val.ArrayValue.GetValues() {
			items = append(items, anyValueToAny(item))
		}
		return items
	case *commonpb.AnyValue_KvlistValue:
		m := make(map[string]any, len(val.KvlistValue.GetValues()))
		for _, kv := range val.KvlistValue.GetValues() {
			m[kv.GetKey()] = anyValueToAny(kv.GetValue())
		}
		return m
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(val.BytesValue)
	default:
		return nil
	}
}

// anyToString renders an attribute value for fields that want plain text,
// JSON-encoding structured values.
func anyToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

// unixNanos converts an OTLP nanosecond timestamp, truncated to millisecond
// precision. Zero maps to the zero time, as do values beyond the int64 range
// that time.Unix cannot represent.
func unixNanos(n uint64) time.Time {
	if n == 0 || n > math.MaxInt64 {
		return time.Time{}
	}
	return time.Unix(0, int64(n)).UTC().Truncate(time.Millisecond)
}

// hexEncodeID normalizes a raw OTLP identifier to canonical lowercase hex.
// All-zero and empty identifiers normalize to the empty string, which marks
// an absent id.
func hexEncodeID(raw []byte) string {
	valid := false
	for _, b := range raw {
		if b != 0 {
			valid = true
			break
		}
	}
	if !valid {
		return ""
	}
	return hex.EncodeToString(raw)
}
