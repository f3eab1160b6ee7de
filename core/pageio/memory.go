package pageio

import (
	"context"
	"sync"

	"github.com/JoDio-zd/DistributeDataBase/core/pageindex"
	"github.com/JoDio-zd/DistributeDataBase/core/record"
)

// Memory is a map-backed PageIO for tests and standalone runs. It keeps only
// live rows, like the relational backend: tombstones are applied as physical
// deletes during PageOut.
type Memory struct {
	mu    sync.Mutex
	index pageindex.PageIndex
	rows  map[string]*record.Record
}

// NewMemory builds an empty in-memory backend routed by index.
func NewMemory(index pageindex.PageIndex) *Memory {
	return &Memory{index: index, rows: make(map[string]*record.Record)}
}

func (m *Memory) PageIn(_ context.Context, pageID string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := NewPage(pageID)
	for key, rec := range m.rows {
		if m.index.PageOf(key) == pageID {
			page.Put(key, rec.Clone())
		}
	}
	return page, nil
}

func (m *Memory) PageOut(_ context.Context, page *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Clear the page's key domain, then lay down the live records. Rows the
	// page no longer mentions are thereby deleted, per the PageIO contract.
	for key := range m.rows {
		if m.index.PageOf(key) == page.ID {
			delete(m.rows, key)
		}
	}
	for key, rec := range page.Records {
		if rec.Deleted {
			continue
		}
		m.rows[key] = rec.Clone()
	}
	return nil
}

// Seed installs a committed row directly, bypassing the transaction path.
// Test fixtures use it to model pre-existing data.
func (m *Memory) Seed(rec *record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.Key] = rec.Clone()
}

// Row returns the live backing row for key, or nil. Tests use it to assert
// on durable state without going through a resource manager.
func (m *Memory) Row(key string) *record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[key].Clone()
}
