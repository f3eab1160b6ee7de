// Package shadow holds each transaction's private write set: pending record
// images (or tombstones) plus the committed version the transaction observed
// when it first touched each key. Shadow records are invisible to every other
// transaction and to non-transactional reads.
package shadow

import (
	"sort"
	"sync"

	"github.com/JoDio-zd/DistributeDataBase/core/record"
)

// Op records how a transaction first came to write a key. Prepare validation
// uses it to distinguish inserts from updates and deletes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type txState struct {
	records       map[string]*record.Record
	ops           map[string]Op
	startVersions map[string]int64
}

func newTxState() *txState {
	return &txState{
		records:       make(map[string]*record.Record),
		ops:           make(map[string]Op),
		startVersions: make(map[string]int64),
	}
}

// Pool is the per-RM collection of transaction write sets.
type Pool struct {
	mu   sync.Mutex
	txns map[string]*txState
}

// NewPool builds an empty shadow record pool.
func NewPool() *Pool {
	return &Pool{txns: make(map[string]*txState)}
}

// Has reports whether xid holds a pending write for key.
func (p *Pool) Has(xid, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txns[xid]
	if !ok {
		return false
	}
	_, ok = tx.records[key]
	return ok
}

// Get returns xid's pending record for key, or nil.
func (p *Pool) Get(xid, key string) *record.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txns[xid]
	if !ok {
		return nil
	}
	return tx.records[key]
}

// Put stores a clone of rec as xid's pending write for key. The op of the
// first write wins: an update following an insert is still an insert as far
// as prepare validation is concerned.
func (p *Pool) Put(xid, key string, rec *record.Record, op Op) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := p.txns[xid]
	if tx == nil {
		tx = newTxState()
		p.txns[xid] = tx
	}
	tx.records[key] = rec.Clone()
	if _, ok := tx.ops[key]; !ok {
		tx.ops[key] = op
	}
}

// OpOf returns the recorded operation kind for key.
func (p *Pool) OpOf(xid, key string) (Op, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txns[xid]
	if !ok {
		return "", false
	}
	op, ok := tx.ops[key]
	return op, ok
}

// ObserveVersion records the committed version xid saw when it first touched
// key. Later observations of the same key are ignored.
func (p *Pool) ObserveVersion(xid, key string, version int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := p.txns[xid]
	if tx == nil {
		tx = newTxState()
		p.txns[xid] = tx
	}
	if _, ok := tx.startVersions[key]; !ok {
		tx.startVersions[key] = version
	}
}

// StartVersion returns the version observed on first touch of key.
func (p *Pool) StartVersion(xid, key string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txns[xid]
	if !ok {
		return 0, false
	}
	v, ok := tx.startVersions[key]
	return v, ok
}

// Keys returns xid's written keys in sorted order. Prepare locks in exactly
// this order, which is what keeps cross-xid lock acquisition deadlock-free.
func (p *Pool) Keys(xid string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txns[xid]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(tx.records))
	for k := range tx.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Records returns clones of xid's pending writes.
func (p *Pool) Records(xid string) map[string]*record.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txns[xid]
	if !ok {
		return nil
	}
	out := make(map[string]*record.Record, len(tx.records))
	for k, rec := range tx.records {
		out[k] = rec.Clone()
	}
	return out
}

// StartVersions returns a copy of xid's observed versions.
func (p *Pool) StartVersions(xid string) map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.txns[xid]
	if !ok {
		return nil
	}
	out := make(map[string]int64, len(tx.startVersions))
	for k, v := range tx.startVersions {
		out[k] = v
	}
	return out
}

// Restore re-materializes a transaction's write set from a recovered journal
// entry. Recovered writes validate again only through their versions, so the
// op kind is not carried.
func (p *Pool) Restore(xid string, records map[string]*record.Record, startVersions map[string]int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := newTxState()
	for k, rec := range records {
		tx.records[k] = rec.Clone()
	}
	for k, v := range startVersions {
		tx.startVersions[k] = v
	}
	p.txns[xid] = tx
}

// Remove discards all private state for xid.
func (p *Pool) Remove(xid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.txns, xid)
}
