package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/record"
)

func setupJournal(t *testing.T) (*PrepareJournal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prepare.journal")
	j, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	return j, path
}

func testEntry(xid string) *Entry {
	return &Entry{
		XID: xid,
		Records: map[string]*record.Record{
			"0001": {Key: "0001", Fields: map[string]interface{}{"numAvail": 4}, Version: 1},
		},
		StartVersions: map[string]int64{"0001": 1},
		HeldKeys:      []string{"0001"},
	}
}

func TestJournal_AppendAndReload(t *testing.T) {
	j, path := setupJournal(t)
	require.NoError(t, j.Append(testEntry("x1")))
	require.NoError(t, j.Append(testEntry("x2")))

	// A fresh open against the same file sees both prepared transactions.
	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	entries := reopened.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "x1", entries[0].XID)
	require.Equal(t, "x2", entries[1].XID)

	got := entries[0]
	require.Equal(t, []string{"0001"}, got.HeldKeys)
	require.EqualValues(t, 1, got.StartVersions["0001"])
	require.EqualValues(t, 4, got.Records["0001"].Int("numAvail"))
}

func TestJournal_RemoveIsIdempotent(t *testing.T) {
	j, path := setupJournal(t)
	require.NoError(t, j.Append(testEntry("x1")))
	require.NoError(t, j.Remove("x1"))
	require.NoError(t, j.Remove("x1"))
	require.NoError(t, j.Remove("never-prepared"))

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, reopened.Entries())
}

func TestJournal_OpenMissingFileIsEmpty(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "absent.journal"), zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, j.Entries())
}

func TestJournal_NoTempFilesLeftBehind(t *testing.T) {
	j, path := setupJournal(t)
	require.NoError(t, j.Append(testEntry("x1")))
	require.NoError(t, j.Remove("x1"))

	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, files, 1, "only the journal itself should remain")
}

func TestJournal_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prepare.journal")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path, zap.NewNop())
	require.Error(t, err)
}
