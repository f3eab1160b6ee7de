// Package pageio moves logical pages between the resource manager and its
// backing store. A page is the unit of backend I/O: page-in loads every
// committed record the page routes, page-out atomically writes the page's
// records back, deleting tombstoned rows.
package pageio

import (
	"context"
	"sort"

	"github.com/JoDio-zd/DistributeDataBase/core/record"
)

// Page is an in-memory collection of records sharing one routing property.
type Page struct {
	ID      string                    `json:"id"`
	Records map[string]*record.Record `json:"records"`
}

// NewPage builds an empty page.
func NewPage(id string) *Page {
	return &Page{ID: id, Records: make(map[string]*record.Record)}
}

// Get returns the record for key, or nil.
func (p *Page) Get(key string) *record.Record {
	return p.Records[key]
}

// Put stores rec under key, replacing any previous snapshot.
func (p *Page) Put(key string, rec *record.Record) {
	p.Records[key] = rec
}

// Keys returns the page's keys in sorted order.
func (p *Page) Keys() []string {
	keys := make([]string, 0, len(p.Records))
	for k := range p.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies the page.
func (p *Page) Clone() *Page {
	out := NewPage(p.ID)
	for k, rec := range p.Records {
		out.Records[k] = rec.Clone()
	}
	return out
}

// PageIO is the narrow persistence contract of a resource manager. The
// backend is an external relational store; the RM never relies on the
// store's locking, only on per-call atomicity of PageOut.
type PageIO interface {
	// PageIn returns all committed records whose routing property matches
	// pageID. A page with no backing rows is returned empty, not as an error.
	PageIn(ctx context.Context, pageID string) (*Page, error)

	// PageOut atomically upserts every live record in page, deletes the
	// tombstoned ones, and deletes backing rows of the page's key domain
	// that the page does not contain. Retriable backend failures surface as errors; the
	// caller retries commit, which is idempotent under version monotonicity.
	PageOut(ctx context.Context, page *Page) error
}
