package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/core/txn"
)

// TM talks to the transaction manager service. It satisfies
// workflow.TMClient.
type TM struct {
	base string
	hc   *http.Client
}

// NewTM builds a client against the TM at base (e.g. "http://tm:9000").
func NewTM(base string, opts Options) *TM {
	return &TM{base: base, hc: opts.httpClient()}
}

// txnBody is the wire shape of TM transaction responses.
type txnBody struct {
	XID     string `json:"xid"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (c *TM) Start(ctx context.Context) (string, error) {
	var out txnBody
	if err := call(ctx, c.hc, http.MethodPost, joinURL(c.base, "/txn/start"), "", nil, &out); err != nil {
		return "", err
	}
	return out.XID, nil
}

func (c *TM) Commit(ctx context.Context, xid string) (txn.State, error) {
	var out txnBody
	if err := call(ctx, c.hc, http.MethodPost, c.txnURL("/txn/commit", xid), xid, nil, &out); err != nil {
		return "", err
	}
	return txn.State(out.Status), nil
}

func (c *TM) Abort(ctx context.Context, xid string) (txn.State, error) {
	var out txnBody
	if err := call(ctx, c.hc, http.MethodPost, c.txnURL("/txn/abort", xid), xid, nil, &out); err != nil {
		return "", err
	}
	return txn.State(out.Status), nil
}

func (c *TM) Status(ctx context.Context, xid string) (txn.State, error) {
	var out txnBody
	if err := call(ctx, c.hc, http.MethodGet, joinURL(c.base, "/txn/"+url.PathEscape(xid)), "", nil, &out); err != nil {
		return "", err
	}
	return txn.State(out.Status), nil
}

// Enlist registers a participant endpoint under xid. Resource managers use
// it through resource.Enlister on their first mutation.
func (c *TM) Enlist(ctx context.Context, xid, endpoint string) error {
	if endpoint == "" {
		return errcode.Newf(errcode.InvalidArgument, "enlist with empty endpoint")
	}
	body := map[string]string{"endpoint": endpoint}
	return call(ctx, c.hc, http.MethodPost, c.txnURL("/txn/enlist", xid), xid, body, nil)
}

// Ping checks the TM's health endpoint.
func (c *TM) Ping(ctx context.Context) error {
	return call(ctx, c.hc, http.MethodGet, joinURL(c.base, "/health"), "", nil, nil)
}

// txnURL builds a TM transaction URL carrying the legacy xid query
// parameter alongside the header set by call.
func (c *TM) txnURL(path, xid string) string {
	return joinURL(c.base, path) + "?xid=" + url.QueryEscape(xid)
}
