package txn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
)

// fakeParticipants records 2PC verbs per endpoint and fails on demand.
type fakeParticipants struct {
	mu         sync.Mutex
	calls      map[string][]string // endpoint -> verbs in order
	prepareErr map[string]error
	commitFail map[string]int // endpoint -> failures before success
}

func newFakeParticipants() *fakeParticipants {
	return &fakeParticipants{
		calls:      make(map[string][]string),
		prepareErr: make(map[string]error),
		commitFail: make(map[string]int),
	}
}

func (f *fakeParticipants) record(endpoint, verb string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[endpoint] = append(f.calls[endpoint], verb)
}

func (f *fakeParticipants) verbs(endpoint string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[endpoint]...)
}

func (f *fakeParticipants) Prepare(_ context.Context, endpoint, _ string) error {
	f.record(endpoint, "prepare")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepareErr[endpoint]
}

func (f *fakeParticipants) Commit(_ context.Context, endpoint, _ string) error {
	f.record(endpoint, "commit")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitFail[endpoint] > 0 {
		f.commitFail[endpoint]--
		return errcode.Newf(errcode.Unavailable, "injected commit failure")
	}
	return nil
}

func (f *fakeParticipants) Abort(_ context.Context, endpoint, _ string) error {
	f.record(endpoint, "abort")
	return nil
}

func setupManager(t *testing.T, cfg Config) (*Manager, *fakeParticipants) {
	t.Helper()
	participants := newFakeParticipants()
	return NewManager(participants, cfg, zap.NewNop(), nil), participants
}

func TestCommit_TwoPhaseSuccess(t *testing.T) {
	m, participants := setupManager(t, Config{})
	txn := m.Start()

	require.NoError(t, m.Enlist(txn.XID, "http://rm1"))
	require.NoError(t, m.Enlist(txn.XID, "http://rm2"))
	require.NoError(t, m.Enlist(txn.XID, "http://rm1"), "enlist is idempotent")

	state, err := m.Commit(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, state)

	require.Equal(t, []string{"prepare", "commit"}, participants.verbs("http://rm1"))
	require.Equal(t, []string{"prepare", "commit"}, participants.verbs("http://rm2"))

	got, err := m.Status(txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, got)
}

func TestCommit_PrepareFailureAbortsGlobally(t *testing.T) {
	m, participants := setupManager(t, Config{})
	txn := m.Start()
	require.NoError(t, m.Enlist(txn.XID, "http://rm1"))
	require.NoError(t, m.Enlist(txn.XID, "http://rm2"))
	participants.prepareErr["http://rm2"] = errcode.New(errcode.VersionConflict, "0001")

	state, err := m.Commit(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateAborted, state)

	// Both participants got an abort, including the one that voted yes.
	require.Contains(t, participants.verbs("http://rm1"), "abort")
	require.Contains(t, participants.verbs("http://rm2"), "abort")
	require.NotContains(t, participants.verbs("http://rm1"), "commit")
}

func TestCommit_RetriesParticipantUntilAck(t *testing.T) {
	m, participants := setupManager(t, Config{RetryBackoff: time.Millisecond})
	txn := m.Start()
	require.NoError(t, m.Enlist(txn.XID, "http://rm1"))
	participants.commitFail["http://rm1"] = 2

	state, err := m.Commit(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, state)
	require.Equal(t, []string{"prepare", "commit", "commit", "commit"}, participants.verbs("http://rm1"))
}

func TestCommit_IdempotentAfterTerminal(t *testing.T) {
	m, participants := setupManager(t, Config{})
	txn := m.Start()
	require.NoError(t, m.Enlist(txn.XID, "http://rm1"))

	state, err := m.Commit(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, state)

	// Repeat commit: same answer, no second 2PC round.
	state, err = m.Commit(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, state)
	require.Equal(t, []string{"prepare", "commit"}, participants.verbs("http://rm1"))

	// Terminal state wins: abort after commit reports COMMITTED.
	state, err = m.Abort(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, state)
}

func TestAbort_Semantics(t *testing.T) {
	m, participants := setupManager(t, Config{})
	txn := m.Start()
	require.NoError(t, m.Enlist(txn.XID, "http://rm1"))

	state, err := m.Abort(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateAborted, state)
	require.Equal(t, []string{"abort"}, participants.verbs("http://rm1"))

	// Idempotent, and commit after abort reports the terminal state.
	state, err = m.Abort(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateAborted, state)
	state, err = m.Commit(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateAborted, state)

	// Unknown xids abort as a no-op; that is the operator recovery path.
	state, err = m.Abort(context.Background(), "never-seen")
	require.NoError(t, err)
	require.Equal(t, StateAborted, state)
}

func TestEnlist_Rules(t *testing.T) {
	m, _ := setupManager(t, Config{})

	err := m.Enlist("missing", "http://rm1")
	require.Equal(t, errcode.TxnNotFound, errcode.CodeOf(err))

	txn := m.Start()
	require.Equal(t, errcode.InvalidArgument, errcode.CodeOf(m.Enlist(txn.XID, "")))

	_, err = m.Abort(context.Background(), txn.XID)
	require.NoError(t, err)
	err = m.Enlist(txn.XID, "http://rm1")
	require.Equal(t, errcode.TxnStateError, errcode.CodeOf(err))
}

func TestStatus_UnknownXid(t *testing.T) {
	m, _ := setupManager(t, Config{})
	_, err := m.Status("missing")
	require.Equal(t, errcode.TxnNotFound, errcode.CodeOf(err))
}

// slowParticipants blocks prepare until released, to hold the driver open.
type slowParticipants struct {
	release chan struct{}
}

func (s *slowParticipants) Prepare(ctx context.Context, endpoint, xid string) error {
	<-s.release
	return nil
}

func (s *slowParticipants) Commit(context.Context, string, string) error { return nil }
func (s *slowParticipants) Abort(context.Context, string, string) error  { return nil }

func TestCommit_ReportsInDoubtWhenDriverOutlivesBudget(t *testing.T) {
	slow := &slowParticipants{release: make(chan struct{})}
	m := NewManager(slow, Config{CommitTimeout: 20 * time.Millisecond}, zap.NewNop(), nil)

	txn := m.Start()
	require.NoError(t, m.Enlist(txn.XID, "http://rm1"))

	state, err := m.Commit(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateInDoubt, state)

	// While the driver runs, the local record shows PREPARING and a second
	// commit does not start a competing driver.
	got, err := m.Status(txn.XID)
	require.NoError(t, err)
	require.Equal(t, StatePreparing, got)
	state, err = m.Commit(context.Background(), txn.XID)
	require.NoError(t, err)
	require.Equal(t, StateInDoubt, state)

	// Once the participant answers, the driver converges and Status sees it.
	close(slow.release)
	require.Eventually(t, func() bool {
		got, err := m.Status(txn.XID)
		return err == nil && got == StateCommitted
	}, time.Second, 5*time.Millisecond)
}
