// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package receiver

import (
	"context"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/telescope-obs/telescope/internal/otlp"
)

// traceService implements opentelemetry.proto.collector.trace.v1.TraceService.
type traceService struct {
	coltracepb.UnimplementedTraceServiceServer
	pipeline *pipeline
}

func (s *traceService) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	spans, sum := otlp.ConvertTraces(req.GetResourceSpans())
	if err := s.pipeline.consumeSpans(ctx, spans); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	resp := &coltracepb.ExportTraceServiceResponse{}
	if sum.Rejected > 0 {
		s.pipeline.logger.Warn("rejected malformed spans", zapRejected(sum)...)
		resp.PartialSuccess = &coltracepb.ExportTracePartialSuccess{
			RejectedSpans: int64(sum.Rejected),
			ErrorMessage:  sum.FirstError,
		}
	}
	return resp, nil
}

func (r *Receiver) handleTraces(w http.ResponseWriter, req *http.Request) {
	body, enc, ok := readBody(w, req)
	if !ok {
		return
	}
	var resourceSpans []*tracepb.ResourceSpans
	if enc == encodingJSON {
		var err error
		if resourceSpans, err = otlp.UnmarshalTracesJSON(body); err != nil {
			writeError(w, enc, http.StatusBadRequest, err)
			return
		}
	} else {
		pbReq := &coltracepb.ExportTraceServiceRequest{}
		if err := unmarshalProto(body, pbReq); err != nil {
			writeError(w, enc, http.StatusBadRequest, err)
			return
		}
		resourceSpans = pbReq.GetResourceSpans()
	}

	spans, sum := otlp.ConvertTraces(resourceSpans)
	if err := r.pipeline.consumeSpans(req.Context(), spans); err != nil {
		writeError(w, enc, http.StatusInternalServerError, err)
		return
	}

	resp := &coltracepb.ExportTraceServiceResponse{}
	var partial *partialSuccessBody
	if sum.Rejected > 0 {
		r.set.Logger.Warn("rejected malformed spans", zapRejected(sum)...)
		resp.PartialSuccess = &coltracepb.ExportTracePartialSuccess{
			RejectedSpans: int64(sum.Rejected),
			ErrorMessage:  sum.FirstError,
		}
		partial = &partialSuccessBody{
			RejectedSpans: int64(sum.Rejected),
			ErrorMessage:  sum.FirstError,
		}
	}
	writeExportResponse(w, enc, resp, partial)
}
