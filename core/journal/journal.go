// Package journal persists the prepared state of a resource manager. Each
// successful prepare writes a snapshot of the transaction's write set,
// observed versions and held locks; the file survives a crash and is
// replayed at start-up so the TM can still drive a deterministic decision.
//
// Durability is by atomic file replacement: the full journal is written to a
// temp file, synced, and renamed over the target.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/record"
)

// Entry is the durable snapshot of one prepared transaction.
type Entry struct {
	XID           string                    `json:"xid"`
	Records       map[string]*record.Record `json:"records"`
	StartVersions map[string]int64          `json:"start_versions"`
	HeldKeys      []string                  `json:"held_keys"`
}

// PrepareJournal owns one journal file. All methods are safe for concurrent
// use; each mutation rewrites the file before returning.
type PrepareJournal struct {
	mu      sync.Mutex
	path    string
	entries map[string]*Entry
	logger  *zap.Logger
}

// Open loads (or creates) the journal at path.
func Open(path string, logger *zap.Logger) (*PrepareJournal, error) {
	j := &PrepareJournal{
		path:    path,
		entries: make(map[string]*Entry),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, errors.Wrapf(err, "read prepare journal %s", path)
	}
	if len(data) == 0 {
		return j, nil
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "decode prepare journal %s", path)
	}
	for _, e := range entries {
		j.entries[e.XID] = e
	}
	logger.Info("prepare journal loaded",
		zap.String("path", path),
		zap.Int("prepared_txns", len(entries)))
	return j, nil
}

// Entries returns the journal's prepared transactions, sorted by xid.
func (j *PrepareJournal) Entries() []*Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sortedLocked()
}

// Append records a prepared transaction durably. The prepare phase must not
// report success before Append returns.
func (j *PrepareJournal) Append(e *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.XID] = e
	if err := j.flushLocked(); err != nil {
		delete(j.entries, e.XID)
		return err
	}
	return nil
}

// Remove clears the entry for xid after commit or abort. Removing an unknown
// xid is a no-op, which is what makes post-recovery cleanup idempotent.
func (j *PrepareJournal) Remove(xid string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[xid]; !ok {
		return nil
	}
	delete(j.entries, xid)
	return j.flushLocked()
}

func (j *PrepareJournal) sortedLocked() []*Entry {
	out := make([]*Entry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].XID < out[k].XID })
	return out
}

// flushLocked writes the whole journal through a temp file and renames it
// over the target, so a crash leaves either the old or the new state.
func (j *PrepareJournal) flushLocked() error {
	data, err := json.Marshal(j.sortedLocked())
	if err != nil {
		return errors.Wrap(err, "encode prepare journal")
	}

	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create journal temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write journal temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "sync journal temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close journal temp file")
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace prepare journal")
	}

	// Sync the directory so the rename itself is durable. Not all platforms
	// support fsync on directories; failures are logged, not fatal.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			j.logger.Warn("journal directory sync failed", zap.Error(err))
		}
		d.Close()
	}
	return nil
}
