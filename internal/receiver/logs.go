// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package receiver

import (
	"context"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"

	"github.com/telescope-obs/telescope/internal/otlp"
)

// logsService implements opentelemetry.proto.collector.logs.v1.LogsService.
type logsService struct {
	collogspb.UnimplementedLogsServiceServer
	pipeline *pipeline
}

func (s *logsService) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	records, sum := otlp.ConvertLogs(req.GetResourceLogs())
	if err := s.pipeline.consumeLogs(ctx, records); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	resp := &collogspb.ExportLogsServiceResponse{}
	if sum.Rejected > 0 {
		s.pipeline.logger.Warn("rejected malformed log records", zapRejected(sum)...)
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: int64(sum.Rejected),
			ErrorMessage:       sum.FirstError,
		}
	}
	return resp, nil
}

func (r *Receiver) handleLogs(w http.ResponseWriter, req *http.Request) {
	body, enc, ok := readBody(w, req)
	if !ok {
		return
	}
	var resourceLogs []*logspb.ResourceLogs
	if enc == encodingJSON {
		var err error
		if resourceLogs, err = otlp.UnmarshalLogsJSON(body); err != nil {
			writeError(w, enc, http.StatusBadRequest, err)
			return
		}
	} else {
		pbReq := &collogspb.ExportLogsServiceRequest{}
		if err := unmarshalProto(body, pbReq); err != nil {
			writeError(w, enc, http.StatusBadRequest, err)
			return
		}
		resourceLogs = pbReq.GetResourceLogs()
	}

	records, sum := otlp.ConvertLogs(resourceLogs)
	if err := r.pipeline.consumeLogs(req.Context(), records); err != nil {
		writeError(w, enc, http.StatusInternalServerError, err)
		return
	}

	resp := &collogspb.ExportLogsServiceResponse{}
	var partial *partialSuccessBody
	if sum.Rejected > 0 {
		r.set.Logger.Warn("rejected malformed log records", zapRejected(sum)...)
		resp.PartialSuccess = &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: int64(sum.Rejected),
			ErrorMessage:       sum.FirstError,
		}
		partial = &partialSuccessBody{
			RejectedLogRecords: int64(sum.Rejected),
			ErrorMessage:       sum.FirstError,
		}
	}
	writeExportResponse(w, enc, resp, partial)
}
