// Package resource implements the per-table resource manager: CRUD under
// snapshot-like transactional isolation, hybrid pessimistic/OCC prepare,
// and crash recovery from the durable prepare journal.
//
// The ResourceManager is a facade over the storage primitives. Writes go to
// per-transaction shadow records and acquire no locks; prepare locks the
// write set in sorted key order, validates it against the committed pool and
// journals the prepared state; commit merges shadows into the committed pool
// and pages them out.
package resource

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/core/journal"
	"github.com/JoDio-zd/DistributeDataBase/core/locks"
	"github.com/JoDio-zd/DistributeDataBase/core/pageindex"
	"github.com/JoDio-zd/DistributeDataBase/core/pageio"
	"github.com/JoDio-zd/DistributeDataBase/core/pagepool"
	"github.com/JoDio-zd/DistributeDataBase/core/record"
	"github.com/JoDio-zd/DistributeDataBase/core/shadow"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
)

// Phase tracks a transaction's 2PC progress on this participant.
type Phase int

const (
	PhaseActive Phase = iota
	PhasePrepared
)

// Enlister registers this RM with the transaction manager the first time a
// transaction mutates local state.
type Enlister interface {
	Enlist(ctx context.Context, xid, endpoint string) error
}

// EnlisterFunc adapts a function to the Enlister interface.
type EnlisterFunc func(ctx context.Context, xid, endpoint string) error

func (f EnlisterFunc) Enlist(ctx context.Context, xid, endpoint string) error {
	return f(ctx, xid, endpoint)
}

// Config carries the identity of one resource manager.
type Config struct {
	// Table names the logical resource (FLIGHTS, HOTELS, ...).
	Table string
	// Endpoint is the base URL this RM advertises when enlisting with the TM.
	Endpoint string
	// PoolCapacity bounds the committed page cache; 0 means unbounded.
	PoolCapacity int
}

// ResourceManager ties the storage primitives together for one table.
type ResourceManager struct {
	cfg       Config
	index     pageindex.PageIndex
	io        pageio.PageIO
	committed *pagepool.CommittedPagePool
	shadows   *shadow.Pool
	locks     *locks.RowLockManager
	journal   *journal.PrepareJournal
	enlister  Enlister
	logger    *zap.Logger
	metrics   *telemetry.Metrics

	mu       sync.Mutex
	phases   map[string]Phase
	pinned   map[string][]string
	enlisted map[string]struct{}
}

// New assembles a resource manager from its primitives. Call Recover before
// serving traffic so prepared transactions from a previous incarnation hold
// their locks again.
func New(cfg Config, index pageindex.PageIndex, io pageio.PageIO, jrnl *journal.PrepareJournal,
	enlister Enlister, logger *zap.Logger, metrics *telemetry.Metrics) *ResourceManager {
	return &ResourceManager{
		cfg:       cfg,
		index:     index,
		io:        io,
		committed: pagepool.New(cfg.PoolCapacity),
		shadows:   shadow.NewPool(),
		locks:     locks.New(),
		journal:   jrnl,
		enlister:  enlister,
		logger:    logger.With(zap.String("table", cfg.Table)),
		metrics:   metrics,
		phases:    make(map[string]Phase),
		pinned:    make(map[string][]string),
		enlisted:  make(map[string]struct{}),
	}
}

// Table reports the logical resource this RM manages.
func (rm *ResourceManager) Table() string { return rm.cfg.Table }

// Recover replays the prepare journal: for every prepared transaction it
// re-materializes the shadow state, re-acquires the row locks and restores
// phase=PREPARED, so the TM can still drive its decision after a restart.
// Lock re-acquisition cannot conflict on a fresh lock table; a conflict
// means the journal itself is inconsistent.
func (rm *ResourceManager) Recover() error {
	for _, e := range rm.journal.Entries() {
		rm.shadows.Restore(e.XID, e.Records, e.StartVersions)
		for _, key := range e.HeldKeys {
			if !rm.locks.TryLock(e.XID, key) {
				return errcode.Newf(errcode.InternalInvariant,
					"recovery: lock on %q contended while replaying %s", key, e.XID)
			}
		}
		rm.mu.Lock()
		rm.phases[e.XID] = PhasePrepared
		rm.mu.Unlock()
		rm.logger.Info("recovered prepared transaction",
			zap.String("xid", e.XID),
			zap.Int("keys", len(e.HeldKeys)))
	}
	return nil
}

// Read returns the record visible to xid: the transaction's shadow if it has
// one, else the committed snapshot. An empty xid reads committed state only.
// Tombstones read as KEY_NOT_FOUND.
func (rm *ResourceManager) Read(ctx context.Context, xid, key string) (*record.Record, error) {
	nkey, err := rm.index.Normalize(key)
	if err != nil {
		return nil, err
	}

	if xid != "" && rm.shadows.Has(xid, nkey) {
		rec := rm.shadows.Get(xid, nkey)
		if rec.Deleted {
			return nil, errcode.New(errcode.KeyNotFound, key)
		}
		return rec.Clone(), nil
	}

	cur, err := rm.committedRecord(ctx, nkey)
	if err != nil {
		return nil, err
	}
	if xid != "" {
		rm.shadows.ObserveVersion(xid, nkey, cur.Version)
	}
	if cur.Deleted {
		return nil, errcode.New(errcode.KeyNotFound, key)
	}
	return cur.Clone(), nil
}

// Add inserts a new record under xid. The effective view (shadow over
// committed) must not already contain the key.
func (rm *ResourceManager) Add(ctx context.Context, xid, key string, fields map[string]interface{}) error {
	nkey, err := rm.index.Normalize(key)
	if err != nil {
		return err
	}
	if err := rm.ensureEnlisted(ctx, xid); err != nil {
		return err
	}

	cur, err := rm.committedRecord(ctx, nkey)
	if err != nil {
		return err
	}
	rm.shadows.ObserveVersion(xid, nkey, cur.Version)

	eff := cur
	if rm.shadows.Has(xid, nkey) {
		eff = rm.shadows.Get(xid, nkey)
	}
	if !eff.Deleted {
		return errcode.New(errcode.KeyExists, key)
	}

	pending := record.New(nkey, fields)
	pending.Version = cur.Version
	rm.shadows.Put(xid, nkey, pending, shadow.OpInsert)
	return nil
}

// Update merges patch into the record visible to xid.
func (rm *ResourceManager) Update(ctx context.Context, xid, key string, patch map[string]interface{}) error {
	nkey, err := rm.index.Normalize(key)
	if err != nil {
		return err
	}
	if err := rm.ensureEnlisted(ctx, xid); err != nil {
		return err
	}

	cur, err := rm.committedRecord(ctx, nkey)
	if err != nil {
		return err
	}
	rm.shadows.ObserveVersion(xid, nkey, cur.Version)

	eff := cur
	if rm.shadows.Has(xid, nkey) {
		eff = rm.shadows.Get(xid, nkey)
	}
	if eff.Deleted {
		return errcode.New(errcode.KeyNotFound, key)
	}

	merged := eff.Merge(patch)
	merged.Key = nkey
	rm.shadows.Put(xid, nkey, merged, shadow.OpUpdate)
	return nil
}

// Delete writes a tombstone for key under xid.
func (rm *ResourceManager) Delete(ctx context.Context, xid, key string) error {
	nkey, err := rm.index.Normalize(key)
	if err != nil {
		return err
	}
	if err := rm.ensureEnlisted(ctx, xid); err != nil {
		return err
	}

	cur, err := rm.committedRecord(ctx, nkey)
	if err != nil {
		return err
	}
	rm.shadows.ObserveVersion(xid, nkey, cur.Version)

	eff := cur
	if rm.shadows.Has(xid, nkey) {
		eff = rm.shadows.Get(xid, nkey)
	}
	if eff.Deleted {
		return errcode.New(errcode.KeyNotFound, key)
	}

	tomb := eff.Clone()
	tomb.Deleted = true
	rm.shadows.Put(xid, nkey, tomb, shadow.OpDelete)
	return nil
}

// Prepare runs phase one of 2PC for xid:
//
//  1. lock the write set in sorted key order (failure: LOCK_CONFLICT),
//  2. validate every shadow against the current committed record
//     (KEY_EXISTS / KEY_NOT_FOUND semantics plus the OCC version check),
//  3. journal the prepared state durably, then mark phase=PREPARED.
//
// On any failure all locks taken here are released and the journal entry is
// discarded; the shadow set stays intact until the TM's abort arrives.
// An empty write set prepares trivially and holds no locks.
func (rm *ResourceManager) Prepare(ctx context.Context, xid string) error {
	rm.mu.Lock()
	if rm.phases[xid] == PhasePrepared {
		rm.mu.Unlock()
		return nil
	}
	rm.mu.Unlock()

	keys := rm.shadows.Keys(xid)
	if len(keys) == 0 {
		return nil
	}

	for _, key := range keys {
		if rm.locks.TryLock(xid, key) {
			continue
		}
		rm.metrics.LockConflict()
		rm.locks.ReleaseAll(xid)
		return errcode.New(errcode.LockConflict, key)
	}

	var pinnedPages []string
	fail := func(err error) error {
		for _, pageID := range pinnedPages {
			rm.committed.Unpin(pageID)
		}
		rm.locks.ReleaseAll(xid)
		_ = rm.journal.Remove(xid)
		return err
	}

	seenPages := make(map[string]struct{})
	for _, key := range keys {
		cur, err := rm.committedRecord(ctx, key)
		if err != nil {
			return fail(err)
		}
		pageID := rm.index.PageOf(key)
		if _, ok := seenPages[pageID]; !ok {
			seenPages[pageID] = struct{}{}
			rm.committed.Pin(pageID)
			pinnedPages = append(pinnedPages, pageID)
		}

		sh := rm.shadows.Get(xid, key)
		if sh == nil {
			return fail(errcode.Newf(errcode.InternalInvariant, "shadow for %s vanished during prepare", key))
		}
		op, hasOp := rm.shadows.OpOf(xid, key)
		if hasOp {
			switch op {
			case shadow.OpInsert:
				if !cur.Deleted {
					return fail(errcode.New(errcode.KeyExists, key))
				}
			case shadow.OpUpdate, shadow.OpDelete:
				if cur.Deleted {
					return fail(errcode.New(errcode.KeyNotFound, key))
				}
			}
		}

		startVersion, ok := rm.shadows.StartVersion(xid, key)
		if !ok {
			return fail(errcode.Newf(errcode.InternalInvariant, "no observed version for %s", key))
		}
		if cur.Version != startVersion {
			return fail(errcode.New(errcode.VersionConflict, key))
		}
	}

	entry := &journal.Entry{
		XID:           xid,
		Records:       rm.shadows.Records(xid),
		StartVersions: rm.shadows.StartVersions(xid),
		HeldKeys:      keys,
	}
	if err := rm.journal.Append(entry); err != nil {
		return fail(errcode.Newf(errcode.IOError, "journal prepare for %s: %v", xid, err))
	}

	rm.mu.Lock()
	rm.phases[xid] = PhasePrepared
	rm.pinned[xid] = pinnedPages
	rm.mu.Unlock()

	rm.logger.Info("prepared", zap.String("xid", xid), zap.Int("keys", len(keys)))
	return nil
}

// Commit merges xid's shadow records into the committed pool — each modified
// key's version becomes its observed start version plus one — pages the
// result out, then releases locks and clears the transaction. Requires a
// prior successful Prepare; calling it again after completion is a no-op.
// A backend failure during page-out leaves the prepared state intact so the
// TM can retry; re-applying is idempotent under version monotonicity.
func (rm *ResourceManager) Commit(ctx context.Context, xid string) error {
	recs := rm.shadows.Records(xid)
	if len(recs) == 0 {
		// Nothing pending: an empty write set, or commit already applied.
		return nil
	}

	rm.mu.Lock()
	phase := rm.phases[xid]
	rm.mu.Unlock()
	if phase != PhasePrepared {
		return errcode.Newf(errcode.TxnStateError, "commit of %s before prepare", xid)
	}

	byPage := make(map[string][]string)
	for key := range recs {
		pageID := rm.index.PageOf(key)
		byPage[pageID] = append(byPage[pageID], key)
	}

	for pageID, keys := range byPage {
		page, err := rm.committedPage(ctx, pageID)
		if err != nil {
			return err
		}
		// Copy-on-write: readers holding the old page keep a consistent
		// snapshot until the updated page replaces it in the pool.
		updated := page.Clone()
		for _, key := range keys {
			startVersion, ok := rm.shadows.StartVersion(xid, key)
			if !ok {
				return errcode.Newf(errcode.InternalInvariant, "no observed version for %s at commit", key)
			}
			final := recs[key].Clone()
			final.Version = startVersion + 1
			updated.Put(key, final)
		}
		if err := rm.io.PageOut(ctx, updated); err != nil {
			return err
		}
		rm.committed.Put(pageID, updated)
		rm.metrics.PageOut()
	}

	if err := rm.journal.Remove(xid); err != nil {
		return errcode.Newf(errcode.IOError, "clear journal for %s: %v", xid, err)
	}
	rm.finish(xid)
	rm.metrics.TxnOutcome("COMMITTED")
	rm.logger.Info("committed", zap.String("xid", xid), zap.Int("keys", len(recs)))
	return nil
}

// Abort discards xid's shadow records, releases its locks and clears any
// journal entry. Legal from any phase and idempotent.
func (rm *ResourceManager) Abort(ctx context.Context, xid string) error {
	if err := rm.journal.Remove(xid); err != nil {
		return errcode.Newf(errcode.IOError, "clear journal for %s: %v", xid, err)
	}
	rm.finish(xid)
	rm.metrics.TxnOutcome("ABORTED")
	rm.logger.Info("aborted", zap.String("xid", xid))
	return nil
}

// PreparedXIDs lists transactions currently in phase PREPARED, for
// introspection and the recovery scenario tests.
func (rm *ResourceManager) PreparedXIDs() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]string, 0, len(rm.phases))
	for xid, phase := range rm.phases {
		if phase == PhasePrepared {
			out = append(out, xid)
		}
	}
	return out
}

// LockOwner reports which xid holds the row lock on key, if any.
func (rm *ResourceManager) LockOwner(key string) (string, bool) {
	nkey, err := rm.index.Normalize(key)
	if err != nil {
		return "", false
	}
	return rm.locks.Owner(nkey)
}

// finish releases every per-transaction resource after a terminal decision.
func (rm *ResourceManager) finish(xid string) {
	rm.locks.ReleaseAll(xid)
	rm.shadows.Remove(xid)
	rm.mu.Lock()
	for _, pageID := range rm.pinned[xid] {
		rm.committed.Unpin(pageID)
	}
	delete(rm.pinned, xid)
	delete(rm.phases, xid)
	delete(rm.enlisted, xid)
	rm.mu.Unlock()
}

// committedRecord returns the committed snapshot for key, loading its page
// on demand. A key with no committed row reads as {version 0, deleted}.
func (rm *ResourceManager) committedRecord(ctx context.Context, key string) (*record.Record, error) {
	page, err := rm.committedPage(ctx, rm.index.PageOf(key))
	if err != nil {
		return nil, err
	}
	if rec := page.Get(key); rec != nil {
		return rec, nil
	}
	return record.Absent(key), nil
}

func (rm *ResourceManager) committedPage(ctx context.Context, pageID string) (*pageio.Page, error) {
	if page := rm.committed.Get(pageID); page != nil {
		return page, nil
	}
	page, err := rm.io.PageIn(ctx, pageID)
	if err != nil {
		return nil, err
	}
	rm.metrics.PageIn()
	rm.committed.Put(pageID, page)
	return page, nil
}

// ensureEnlisted registers this RM with the TM on the first mutation under
// xid. A failed enlist fails the mutation: the TM would otherwise not know
// to drive this participant through 2PC.
func (rm *ResourceManager) ensureEnlisted(ctx context.Context, xid string) error {
	if xid == "" {
		return errcode.Newf(errcode.InvalidArgument, "mutation without transaction id")
	}
	if rm.enlister == nil {
		return nil
	}
	rm.mu.Lock()
	_, done := rm.enlisted[xid]
	rm.mu.Unlock()
	if done {
		return nil
	}
	if err := rm.enlister.Enlist(ctx, xid, rm.cfg.Endpoint); err != nil {
		return err
	}
	rm.mu.Lock()
	rm.enlisted[xid] = struct{}{}
	rm.mu.Unlock()
	return nil
}
