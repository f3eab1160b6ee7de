// Package httputil holds the request/response plumbing shared by the three
// HTTP services: transaction-id extraction, JSON encoding and the structured
// error writer.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/core/workflow"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
)

// TransactionIDHeader carries the transaction context between services.
const TransactionIDHeader = "X-Transaction-Id"

// XID extracts the transaction id from a request: the X-Transaction-Id
// header wins, then the legacy xid query parameter. An empty result means a
// non-transactional request.
func XID(r *http.Request) string {
	if xid := r.Header.Get(TransactionIDHeader); xid != "" {
		return xid
	}
	return r.URL.Query().Get("xid")
}

// Decode reads the request body as JSON into v.
func Decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errcode.Newf(errcode.InvalidArgument, "bad request body: %v", err)
	}
	return nil
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the wire shape of a failed request.
type ErrorBody struct {
	Err                string `json:"err"`
	Key                string `json:"key,omitempty"`
	Message            string `json:"message,omitempty"`
	TransactionAborted bool   `json:"transaction_aborted,omitempty"`
}

// WriteError maps err onto its stable HTTP status and structured body. A
// workflow.AbortedError marks the response transaction_aborted.
func WriteError(w http.ResponseWriter, err error) {
	body := ErrorBody{Err: string(errcode.Unknown), Message: err.Error()}

	var aborted *workflow.AbortedError
	if errors.As(err, &aborted) {
		body.TransactionAborted = true
	}
	var structured *errcode.Error
	if errors.As(err, &structured) {
		body.Err = string(structured.Code)
		body.Key = structured.Key
	}
	WriteJSON(w, errcode.HTTPStatus(errcode.Code(body.Err)), body)
}

// statusRecorder captures the response code for the metrics middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Instrument wraps a handler with request logging and prometheus metrics.
func Instrument(route string, metrics *telemetry.Metrics, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		metrics.ObserveRequest(route, r.Method, rec.status, elapsed)
		logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("xid", XID(r)),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}
