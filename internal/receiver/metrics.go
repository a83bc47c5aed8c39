// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package receiver

import (
	"context"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"

	"github.com/telescope-obs/telescope/internal/otlp"
)

// metricsService implements opentelemetry.proto.collector.metrics.v1.MetricsService.
type metricsService struct {
	colmetricspb.UnimplementedMetricsServiceServer
	pipeline *pipeline
}

func (s *metricsService) Export(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) (*colmetricspb.ExportMetricsServiceResponse, error) {
	samples, sum := otlp.ConvertMetrics(req.GetResourceMetrics())
	if err := s.pipeline.consumeMetrics(ctx, samples); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	resp := &colmetricspb.ExportMetricsServiceResponse{}
	if sum.Rejected > 0 {
		s.pipeline.logger.Warn("rejected malformed data points", zapRejected(sum)...)
		resp.PartialSuccess = &colmetricspb.ExportMetricsPartialSuccess{
			RejectedDataPoints: int64(sum.Rejected),
			ErrorMessage:       sum.FirstError,
		}
	}
	return resp, nil
}

func (r *Receiver) handleMetrics(w http.ResponseWriter, req *http.Request) {
	body, enc, ok := readBody(w, req)
	if !ok {
		return
	}
	var resourceMetrics []*metricspb.ResourceMetrics
	if enc == encodingJSON {
		var err error
		if resourceMetrics, err = otlp.UnmarshalMetricsJSON(body); err != nil {
			writeError(w, enc, http.StatusBadRequest, err)
			return
		}
	} else {
		pbReq := &colmetricspb.ExportMetricsServiceRequest{}
		if err := unmarshalProto(body, pbReq); err != nil {
			writeError(w, enc, http.StatusBadRequest, err)
			return
		}
		resourceMetrics = pbReq.GetResourceMetrics()
	}

	samples, sum := otlp.ConvertMetrics(resourceMetrics)
	if err := r.pipeline.consumeMetrics(req.Context(), samples); err != nil {
		writeError(w, enc, http.StatusInternalServerError, err)
		return
	}

	resp := &colmetricspb.ExportMetricsServiceResponse{}
	var partial *partialSuccessBody
	if sum.Rejected > 0 {
		r.set.Logger.Warn("rejected malformed data points", zapRejected(sum)...)
		resp.PartialSuccess = &colmetricspb.ExportMetricsPartialSuccess{
			RejectedDataPoints: int64(sum.Rejected),
			ErrorMessage:       sum.FirstError,
		}
		partial = &partialSuccessBody{
			RejectedDataPoints: int64(sum.Rejected),
			ErrorMessage:       sum.FirstError,
		}
	}
	writeExportResponse(w, enc, resp, partial)
}
