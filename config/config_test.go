package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JoDio-zd/DistributeDataBase/core/pageindex"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRM_PrefixDefaults(t *testing.T) {
	path := writeConfig(t, `
table: FLIGHTS
key_column: flightNum
offset_width: 2
`)
	var cfg RM
	require.NoError(t, Load(path, &cfg))
	require.NoError(t, cfg.Validate())

	require.Equal(t, "127.0.0.1:8001", cfg.ListenAddr)
	require.Equal(t, "http://127.0.0.1:8001", cfg.AdvertiseURL)
	require.Equal(t, IndexPrefix, cfg.Index)
	require.Equal(t, 4, cfg.KeyWidth)
	require.Equal(t, "FLIGHTS.prepare.journal", cfg.JournalPath)
	require.Equal(t, []string{"flightNum"}, cfg.SQLKeyColumns())

	_, err := cfg.BuildIndex()
	require.NoError(t, err)
}

func TestLoadRM_Composite(t *testing.T) {
	path := writeConfig(t, `
table: RESERVATIONS
index: composite
key_columns:
  - name: custName
    width: 16
  - name: resvType
    width: 8
  - name: resvKey
    width: 8
`)
	var cfg RM
	require.NoError(t, Load(path, &cfg))
	require.NoError(t, cfg.Validate())
	require.Equal(t, 1, cfg.PrefixColumns)
	require.Equal(t, []string{"custName", "resvType", "resvKey"}, cfg.SQLKeyColumns())

	ix, err := cfg.BuildIndex()
	require.NoError(t, err)
	_, ok := ix.(*pageindex.CompositeFixedWidth)
	require.True(t, ok)
}

func TestLoadRM_Invalid(t *testing.T) {
	var cfg RM
	require.Error(t, cfg.Validate(), "table is required")

	cfg = RM{Table: "T", Index: "btree"}
	require.Error(t, cfg.Validate())

	cfg = RM{Table: "T", Index: IndexPrefix, KeyColumn: "k", KeyWidth: 4, OffsetWidth: 4}
	require.Error(t, cfg.Validate())
}

func TestLoadTM_Durations(t *testing.T) {
	path := writeConfig(t, `
prepare_timeout: 3s
commit_timeout: 500ms
retry_backoff: 100ms
`)
	var cfg TM
	require.NoError(t, Load(path, &cfg))
	require.NoError(t, cfg.Validate())
	require.Equal(t, 3*time.Second, cfg.PrepareTimeout.Std())
	require.Equal(t, 500*time.Millisecond, cfg.CommitTimeout.Std())

	bad := writeConfig(t, "prepare_timeout: soon\n")
	var cfg2 TM
	require.Error(t, Load(bad, &cfg2))
}

func TestLoadWC_RequiresEndpoints(t *testing.T) {
	var cfg WC
	require.Error(t, cfg.Validate())

	path := writeConfig(t, `
tm_url: http://tm:9000
flights_url: http://f:8001
hotels_url: http://h:8002
cars_url: http://c:8003
customers_url: http://cu:8004
reservations_url: http://r:8005
auto_abort: false
`)
	var full WC
	require.NoError(t, Load(path, &full))
	require.NoError(t, full.Validate())
	require.False(t, full.AutoAbortEnabled())

	full.AutoAbort = nil
	require.True(t, full.AutoAbortEnabled(), "auto-abort defaults on")
}
