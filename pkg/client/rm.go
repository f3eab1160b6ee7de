package client

import (
	"context"
	"net/http"
	"net/url"
)

// RM talks to one resource manager service. It satisfies workflow.RMClient.
type RM struct {
	base string
	hc   *http.Client
}

// NewRM builds a client against the RM at base (e.g. "http://flights:8001").
func NewRM(base string, opts Options) *RM {
	return &RM{base: base, hc: opts.httpClient()}
}

// recordBody is the wire shape of RM record responses.
type recordBody struct {
	Key     string                 `json:"key"`
	Value   map[string]interface{} `json:"value"`
	Version int64                  `json:"version"`
}

func (c *RM) Query(ctx context.Context, xid, key string) (map[string]interface{}, error) {
	var out recordBody
	err := call(ctx, c.hc, http.MethodGet, c.recordURL(key), xid, nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (c *RM) Insert(ctx context.Context, xid, key string, fields map[string]interface{}) error {
	body := map[string]interface{}{"key": key, "value": fields}
	return call(ctx, c.hc, http.MethodPost, joinURL(c.base, "/records"), xid, body, nil)
}

func (c *RM) Update(ctx context.Context, xid, key string, patch map[string]interface{}) error {
	body := map[string]interface{}{"updates": patch}
	return call(ctx, c.hc, http.MethodPatch, c.recordURL(key), xid, body, nil)
}

func (c *RM) Delete(ctx context.Context, xid, key string) error {
	return call(ctx, c.hc, http.MethodDelete, c.recordURL(key), xid, nil, nil)
}

// Ping checks the RM's health endpoint.
func (c *RM) Ping(ctx context.Context) error {
	return call(ctx, c.hc, http.MethodGet, joinURL(c.base, "/health"), "", nil, nil)
}

func (c *RM) recordURL(key string) string {
	return joinURL(c.base, "/records/"+url.PathEscape(key))
}
