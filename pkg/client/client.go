// Package client implements the outbound HTTP clients used between the
// services: the workflow controller's RM and TM clients and the transaction
// manager's participant driver. Transaction context always travels as the
// X-Transaction-Id header; responses carrying a structured error body are
// turned back into errcode errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
)

const transactionIDHeader = "X-Transaction-Id"

// Options tunes a client.
type Options struct {
	// Timeout bounds each request; zero means 5s.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// call performs one JSON request. A non-2xx response is decoded into the
// structured error body and surfaced as an errcode error; transport
// failures map to UNAVAILABLE and deadline overruns to TIMEOUT.
func call(ctx context.Context, hc *http.Client, method, url, xid string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errcode.Newf(errcode.InternalInvariant, "encode request: %v", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return errcode.Newf(errcode.InvalidArgument, "build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if xid != "" {
		req.Header.Set(transactionIDHeader, xid)
	}

	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return errcode.Newf(errcode.Timeout, "%s %s: %v", method, url, err)
		}
		return errcode.Newf(errcode.Unavailable, "%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errcode.Newf(errcode.Unknown, "decode response from %s: %v", url, err)
		}
	}
	return nil
}

// decodeError rebuilds a structured error from a failed response.
func decodeError(resp *http.Response) error {
	var body struct {
		Err     string `json:"err"`
		Key     string `json:"key"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err == nil && body.Err != "" {
		return &errcode.Error{Code: errcode.Code(body.Err), Key: body.Key, Message: body.Message}
	}
	return &errcode.Error{
		Code:    errcode.FromHTTPStatus(resp.StatusCode),
		Message: strings.TrimSpace(string(data)),
	}
}

func joinURL(base string, path string) string {
	return strings.TrimRight(base, "/") + path
}
