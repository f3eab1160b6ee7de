// Package pagepool caches committed pages in memory. Pages are held in an
// ordered map keyed by page id; prepared transactions pin the pages they
// validated against so eviction never drops them mid-2PC.
package pagepool

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/JoDio-zd/DistributeDataBase/core/pageio"
)

type entry struct {
	page *pageio.Page
	pins int
}

// CommittedPagePool is the shared cache of committed pages for one resource
// manager. All methods are safe for concurrent use.
type CommittedPagePool struct {
	mu       sync.Mutex
	pages    btree.Map[string, *entry]
	capacity int
}

// New builds a pool bounded to capacity pages; capacity <= 0 means unbounded.
func New(capacity int) *CommittedPagePool {
	return &CommittedPagePool{capacity: capacity}
}

// Get returns the cached page, or nil on a miss.
func (p *CommittedPagePool) Get(pageID string) *pageio.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.pages.Get(pageID); ok {
		return e.page
	}
	return nil
}

// Put installs (or replaces) a committed page and evicts beyond capacity.
func (p *CommittedPagePool) Put(pageID string, page *pageio.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.pages.Get(pageID); ok {
		e.page = page
	} else {
		p.pages.Set(pageID, &entry{page: page})
	}
	p.evictLocked()
}

// Pin marks a page as non-evictable. Pins nest.
func (p *CommittedPagePool) Pin(pageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.pages.Get(pageID); ok {
		e.pins++
	}
}

// Unpin releases one pin.
func (p *CommittedPagePool) Unpin(pageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.pages.Get(pageID); ok && e.pins > 0 {
		e.pins--
	}
}

// Len reports the number of cached pages.
func (p *CommittedPagePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages.Len()
}

// evictLocked drops unpinned pages, in page-id order, until the pool fits
// its capacity again.
func (p *CommittedPagePool) evictLocked() {
	if p.capacity <= 0 || p.pages.Len() <= p.capacity {
		return
	}
	var victims []string
	over := p.pages.Len() - p.capacity
	p.pages.Scan(func(id string, e *entry) bool {
		if e.pins == 0 {
			victims = append(victims, id)
		}
		return len(victims) < over
	})
	for _, id := range victims {
		p.pages.Delete(id)
	}
}
