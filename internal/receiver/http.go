// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

package receiver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/telescope-obs/telescope/internal/otlp"
)

type bodyEncoding int

const (
	encodingJSON bodyEncoding = iota
	encodingProto
)

const (
	contentTypeJSON  = "application/json"
	contentTypeProto = "application/x-protobuf"

	// maxBodySize bounds a single export request body.
	maxBodySize = 32 << 20
)

// readBody reads and closes the request body, transparently inflating gzip,
// and resolves the payload encoding from the Content-Type header. On failure
// it writes the error response itself and returns ok=false.
func readBody(w http.ResponseWriter, req *http.Request) (body []byte, enc bodyEncoding, ok bool) {
	switch ct := req.Header.Get("Content-Type"); {
	case strings.HasPrefix(ct, contentTypeJSON):
		enc = encodingJSON
	case strings.HasPrefix(ct, contentTypeProto):
		enc = encodingProto
	default:
		writeError(w, encodingJSON, http.StatusUnsupportedMediaType,
			fmt.Errorf("unsupported content type %q", ct))
		return nil, 0, false
	}

	reader := io.Reader(req.Body)
	switch ce := req.Header.Get("Content-Encoding"); ce {
	case "", "identity":
	case "gzip":
		zr, err := gzip.NewReader(req.Body)
		if err != nil {
			writeError(w, enc, http.StatusBadRequest, err)
			return nil, 0, false
		}
		defer zr.Close()
		reader = zr
	default:
		writeError(w, enc, http.StatusBadRequest,
			fmt.Errorf("unsupported content encoding %q", ce))
		return nil, 0, false
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize+1))
	if err != nil {
		writeError(w, enc, http.StatusBadRequest, err)
		return nil, 0, false
	}
	if len(body) > maxBodySize {
		writeError(w, enc, http.StatusRequestEntityTooLarge,
			fmt.Errorf("request body exceeds %d bytes", maxBodySize))
		return nil, 0, false
	}
	if err := req.Body.Close(); err != nil {
		writeError(w, enc, http.StatusBadRequest, err)
		return nil, 0, false
	}
	return body, enc, true
}

func unmarshalProto(body []byte, msg proto.Message) error {
	return proto.Unmarshal(body, msg)
}

// partialSuccessBody is the JSON rendering of the OTLP partial-success
// message; only the field matching the signal is populated.
type partialSuccessBody struct {
	RejectedLogRecords int64  `json:"rejectedLogRecords,omitempty"`
	RejectedSpans      int64  `json:"rejectedSpans,omitempty"`
	RejectedDataPoints int64  `json:"rejectedDataPoints,omitempty"`
	ErrorMessage       string `json:"errorMessage,omitempty"`
}

// exportResponse mirrors the OTLP export response envelope: partialSuccess is
// null on full success.
type exportResponse struct {
	PartialSuccess *partialSuccessBody `json:"partialSuccess"`
}

// writeExportResponse answers 200 OK with the partial-success envelope in the
// request's own encoding.
func writeExportResponse(w http.ResponseWriter, enc bodyEncoding, pbResp proto.Message, partial *partialSuccessBody) {
	if enc == encodingProto {
		data, err := proto.Marshal(pbResp)
		if err != nil {
			writeError(w, encodingJSON, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", contentTypeProto)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{PartialSuccess: partial})
}

// httpError is the error body shape shared by both encodings; for protobuf
// clients the grpc-gateway style status JSON is close enough for a body they
// mostly ignore, the status code carries the signal.
type httpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, _ bodyEncoding, statusCode int, err error) {
	writeJSON(w, statusCode, httpError{Code: statusCode, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":500,"message":"failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

func zapRejected(sum otlp.Summary) []zap.Field {
	return []zap.Field{
		zap.Int("rejected", sum.Rejected),
		zap.Int("accepted", sum.Accepted),
		zap.String("first_error", sum.FirstError),
	}
}
