package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
)

// Participants drives the RM-side 2PC endpoints for the transaction
// manager. Participant endpoints arrive per call because the set is dynamic:
// whatever enlisted under the transaction. It satisfies
// txn.ParticipantClient.
type Participants struct {
	hc *http.Client
}

// NewParticipants builds the TM's participant driver.
func NewParticipants(opts Options) *Participants {
	return &Participants{hc: opts.httpClient()}
}

// prepareBody is the RM's prepare vote: ok, or a structured refusal.
type prepareBody struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
	Key string `json:"key,omitempty"`
}

// Prepare asks a participant to prepare xid. A no vote arrives as HTTP 200
// with ok=false and is returned as the participant's structured error.
func (c *Participants) Prepare(ctx context.Context, endpoint, xid string) error {
	var out prepareBody
	if err := call(ctx, c.hc, http.MethodPost, txnVerbURL(endpoint, "prepare", xid), xid, nil, &out); err != nil {
		return err
	}
	if !out.OK {
		return &errcode.Error{Code: errcode.Code(out.Err), Key: out.Key}
	}
	return nil
}

func (c *Participants) Commit(ctx context.Context, endpoint, xid string) error {
	return call(ctx, c.hc, http.MethodPost, txnVerbURL(endpoint, "commit", xid), xid, nil, nil)
}

func (c *Participants) Abort(ctx context.Context, endpoint, xid string) error {
	return call(ctx, c.hc, http.MethodPost, txnVerbURL(endpoint, "abort", xid), xid, nil, nil)
}

func txnVerbURL(endpoint, verb, xid string) string {
	return joinURL(endpoint, "/txn/"+verb) + "?xid=" + url.QueryEscape(xid)
}
