// Package txn implements the global transaction manager: xid allocation,
// participant enlistment and the two-phase commit driver with idempotent
// terminal outcomes.
package txn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
)

// State is the lifecycle state of a global transaction.
type State string

const (
	StateActive    State = "ACTIVE"
	StatePreparing State = "PREPARING"
	StateCommitted State = "COMMITTED"
	StateAborted   State = "ABORTED"
	// StateInDoubt is reported to callers when the commit driver outlives the
	// caller's patience. It is never stored: the TM's own record still
	// converges to COMMITTED or ABORTED.
	StateInDoubt State = "IN_DOUBT"
)

// Transaction is the TM's record of one global transaction.
type Transaction struct {
	XID          string
	State        State
	Participants []string
}

func (t *Transaction) clone() *Transaction {
	out := &Transaction{XID: t.XID, State: t.State}
	out.Participants = append(out.Participants, t.Participants...)
	return out
}

// ParticipantClient drives the 2PC verbs against an enlisted resource
// manager endpoint. A nil error from Prepare is a yes vote.
type ParticipantClient interface {
	Prepare(ctx context.Context, endpoint, xid string) error
	Commit(ctx context.Context, endpoint, xid string) error
	Abort(ctx context.Context, endpoint, xid string) error
}

// Config tunes the commit driver.
type Config struct {
	// PrepareTimeout bounds each participant prepare call.
	PrepareTimeout time.Duration
	// CommitTimeout bounds how long a Commit caller waits for the driver
	// before being told IN_DOUBT.
	CommitTimeout time.Duration
	// RetryLimit bounds commit/abort broadcast retries per participant.
	RetryLimit int
	// RetryBackoff is the initial backoff between broadcast retries; it
	// doubles per attempt.
	RetryBackoff time.Duration
	// OutcomeCacheSize bounds the terminal-outcome LRU answering late
	// commit/abort/status retries.
	OutcomeCacheSize int
}

func (c Config) withDefaults() Config {
	if c.PrepareTimeout <= 0 {
		c.PrepareTimeout = 3 * time.Second
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 10 * time.Second
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.OutcomeCacheSize <= 0 {
		c.OutcomeCacheSize = 4096
	}
	return c
}

// Manager is the transaction manager. State is in-memory by design: a
// restarted TM loses history, and prepared participants are re-driven by
// operators aborting unknown xids — which is safe because abort of an
// unknown xid is a no-op everywhere.
type Manager struct {
	mu       sync.Mutex
	txns     map[string]*Transaction
	outcomes *lru.Cache[string, State]

	participants ParticipantClient
	cfg          Config
	logger       *zap.Logger
	metrics      *telemetry.Metrics
}

// NewManager builds a transaction manager driving participants through
// client.
func NewManager(client ParticipantClient, cfg Config, logger *zap.Logger, metrics *telemetry.Metrics) *Manager {
	cfg = cfg.withDefaults()
	outcomes, _ := lru.New[string, State](cfg.OutcomeCacheSize)
	return &Manager{
		txns:         make(map[string]*Transaction),
		outcomes:     outcomes,
		participants: client,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
	}
}

// Start allocates a globally unique xid and registers it as ACTIVE.
func (m *Manager) Start() *Transaction {
	txn := &Transaction{XID: uuid.NewString(), State: StateActive}
	m.mu.Lock()
	m.txns[txn.XID] = txn
	m.mu.Unlock()
	m.logger.Info("transaction started", zap.String("xid", txn.XID))
	return txn.clone()
}

// Enlist adds endpoint to the transaction's participant set. Enlisting is
// idempotent; it fails once 2PC has begun.
func (m *Manager) Enlist(xid, endpoint string) error {
	if endpoint == "" {
		return errcode.Newf(errcode.InvalidArgument, "enlist with empty endpoint")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[xid]
	if !ok {
		if _, done := m.outcomes.Get(xid); done {
			return errcode.Newf(errcode.TxnStateError, "transaction %s already finished", xid)
		}
		return errcode.Newf(errcode.TxnNotFound, "transaction %s", xid)
	}
	if txn.State != StateActive {
		return errcode.Newf(errcode.TxnStateError, "transaction %s is %s", xid, txn.State)
	}
	for _, p := range txn.Participants {
		if p == endpoint {
			return nil
		}
	}
	txn.Participants = append(txn.Participants, endpoint)
	return nil
}

// Status reports the transaction's state as locally known.
func (m *Manager) Status(xid string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if txn, ok := m.txns[xid]; ok {
		return txn.State, nil
	}
	if state, ok := m.outcomes.Get(xid); ok {
		return state, nil
	}
	return "", errcode.Newf(errcode.TxnNotFound, "transaction %s", xid)
}

// Commit drives two-phase commit for xid. Terminal states answer
// idempotently. If the driver has not reached a decision within
// CommitTimeout the caller gets IN_DOUBT while the driver keeps running;
// Status converges to the real outcome.
func (m *Manager) Commit(ctx context.Context, xid string) (State, error) {
	m.mu.Lock()
	if state, ok := m.outcomes.Get(xid); ok {
		m.mu.Unlock()
		return state, nil
	}
	txn, ok := m.txns[xid]
	if !ok {
		m.mu.Unlock()
		return "", errcode.Newf(errcode.TxnNotFound, "transaction %s", xid)
	}
	if txn.State == StatePreparing {
		m.mu.Unlock()
		return StateInDoubt, nil
	}
	txn.State = StatePreparing
	participants := append([]string(nil), txn.Participants...)
	m.mu.Unlock()

	done := make(chan State, 1)
	go func() { done <- m.drive(xid, participants) }()

	timer := time.NewTimer(m.cfg.CommitTimeout)
	defer timer.Stop()
	select {
	case state := <-done:
		return state, nil
	case <-ctx.Done():
		return StateInDoubt, nil
	case <-timer.C:
		m.logger.Warn("commit driver exceeded budget, reporting IN_DOUBT",
			zap.String("xid", xid),
			zap.Duration("budget", m.cfg.CommitTimeout))
		return StateInDoubt, nil
	}
}

// Abort aborts an ACTIVE transaction, broadcasting to its participants.
// Terminal states win and answer idempotently; an unknown xid is a no-op
// reported as ABORTED so decisions can be re-driven after a TM restart.
// Aborting a transaction whose commit driver is already running is refused.
func (m *Manager) Abort(ctx context.Context, xid string) (State, error) {
	m.mu.Lock()
	if state, ok := m.outcomes.Get(xid); ok {
		m.mu.Unlock()
		return state, nil
	}
	txn, ok := m.txns[xid]
	if !ok {
		m.mu.Unlock()
		return StateAborted, nil
	}
	if txn.State == StatePreparing {
		m.mu.Unlock()
		return "", errcode.Newf(errcode.TxnStateError, "transaction %s commit in progress", xid)
	}
	participants := append([]string(nil), txn.Participants...)
	m.mu.Unlock()

	m.broadcast(xid, participants, "abort", m.participants.Abort)
	m.finalize(xid, StateAborted)
	return StateAborted, nil
}

// drive runs both 2PC phases outside the manager mutex.
func (m *Manager) drive(xid string, participants []string) State {
	for _, endpoint := range participants {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PrepareTimeout)
		err := m.participants.Prepare(ctx, endpoint, xid)
		cancel()
		if err != nil {
			m.logger.Info("prepare rejected, aborting globally",
				zap.String("xid", xid),
				zap.String("participant", endpoint),
				zap.Error(err))
			m.broadcast(xid, participants, "abort", m.participants.Abort)
			m.finalize(xid, StateAborted)
			return StateAborted
		}
	}

	// Every participant voted yes; the decision is commit. Participant
	// failures past this point are retried — prepared state is durable, so
	// acknowledgement is a matter of time, not of outcome.
	m.broadcast(xid, participants, "commit", m.participants.Commit)
	m.finalize(xid, StateCommitted)
	return StateCommitted
}

// broadcast delivers a phase-two verb to every participant concurrently,
// retrying each with exponential backoff until it acknowledges or the retry
// budget runs out.
func (m *Manager) broadcast(xid string, participants []string,
	verb string, call func(ctx context.Context, endpoint, xid string) error) {
	var wg sync.WaitGroup
	for _, endpoint := range participants {
		wg.Add(1)
		go func(endpoint string) {
			defer wg.Done()
			backoff := m.cfg.RetryBackoff
			for attempt := 1; ; attempt++ {
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PrepareTimeout)
				err := call(ctx, endpoint, xid)
				cancel()
				if err == nil {
					return
				}
				if attempt >= m.cfg.RetryLimit {
					m.logger.Error("participant never acknowledged",
						zap.String("xid", xid),
						zap.String("verb", verb),
						zap.String("participant", endpoint),
						zap.Int("attempts", attempt),
						zap.Error(err))
					return
				}
				m.logger.Warn("participant call failed, backing off",
					zap.String("xid", xid),
					zap.String("verb", verb),
					zap.String("participant", endpoint),
					zap.Int("attempt", attempt),
					zap.Error(err))
				time.Sleep(backoff)
				backoff *= 2
			}
		}(endpoint)
	}
	wg.Wait()
}

// finalize moves a transaction into the bounded terminal-outcome cache.
func (m *Manager) finalize(xid string, state State) {
	m.mu.Lock()
	delete(m.txns, xid)
	m.outcomes.Add(xid, state)
	m.mu.Unlock()
	m.metrics.TxnOutcome(string(state))
	m.logger.Info("transaction finished",
		zap.String("xid", xid),
		zap.String("state", string(state)))
}
