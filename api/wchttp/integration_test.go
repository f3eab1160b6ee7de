package wchttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/api/rmhttp"
	"github.com/JoDio-zd/DistributeDataBase/api/tmhttp"
	"github.com/JoDio-zd/DistributeDataBase/api/wchttp"
	"github.com/JoDio-zd/DistributeDataBase/core/journal"
	"github.com/JoDio-zd/DistributeDataBase/core/pageindex"
	"github.com/JoDio-zd/DistributeDataBase/core/pageio"
	"github.com/JoDio-zd/DistributeDataBase/core/record"
	"github.com/JoDio-zd/DistributeDataBase/core/resource"
	"github.com/JoDio-zd/DistributeDataBase/core/txn"
	"github.com/JoDio-zd/DistributeDataBase/core/workflow"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
	"github.com/JoDio-zd/DistributeDataBase/pkg/client"
)

// cluster wires a TM, five RMs and a WC over httptest servers, with
// in-memory page I/O per RM. It is the whole system minus real sockets
// between processes.
type cluster struct {
	t *testing.T

	wcURL string
	tmURL string

	flights      *rmFixture
	customers    *rmFixture
	reservations *rmFixture
}

type rmFixture struct {
	rm      *resource.ResourceManager
	backend *pageio.Memory
	index   pageindex.PageIndex
	url     string
}

func startRM(t *testing.T, table string, index pageindex.PageIndex, tmURL string) *rmFixture {
	t.Helper()
	backend := pageio.NewMemory(index)
	jrnl, err := journal.Open(filepath.Join(t.TempDir(), table+".journal"), zap.NewNop())
	require.NoError(t, err)

	// The advertised endpoint is only known once httptest picks a port, so
	// the handler is patched in after construction.
	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	rm := resource.New(resource.Config{Table: table, Endpoint: srv.URL},
		index, backend, jrnl, client.NewTM(tmURL, client.Options{}), zap.NewNop(), nil)
	require.NoError(t, rm.Recover())
	handler = rmhttp.NewServer(rm, zap.NewNop(), telemetry.New("rm-"+table), func(bool) {})

	return &rmFixture{rm: rm, backend: backend, index: index, url: srv.URL}
}

func startCluster(t *testing.T) *cluster {
	t.Helper()

	manager := txn.NewManager(client.NewParticipants(client.Options{}), txn.Config{}, zap.NewNop(), nil)
	tmSrv := httptest.NewServer(tmhttp.NewServer(manager, zap.NewNop(), telemetry.New("tm"), func() {}))
	t.Cleanup(tmSrv.Close)

	flightIdx, err := pageindex.NewPrefixOrdered(4, 2)
	require.NoError(t, err)
	custIdx, err := pageindex.NewPrefixOrdered(16, 8)
	require.NoError(t, err)
	resvIdx, err := pageindex.NewCompositeFixedWidth([]pageindex.Column{
		{Name: "custName", Width: 16},
		{Name: "resvType", Width: 8},
		{Name: "resvKey", Width: 8},
	}, 1)
	require.NoError(t, err)

	c := &cluster{
		t:            t,
		tmURL:        tmSrv.URL,
		flights:      startRM(t, "FLIGHTS", flightIdx, tmSrv.URL),
		customers:    startRM(t, "CUSTOMERS", custIdx, tmSrv.URL),
		reservations: startRM(t, "RESERVATIONS", resvIdx, tmSrv.URL),
	}

	hotels := startRM(t, "HOTELS", mustPrefix(t, 16, 8), tmSrv.URL)
	cars := startRM(t, "CARS", mustPrefix(t, 16, 8), tmSrv.URL)

	opts := client.Options{}
	controller := workflow.New(workflow.Clients{
		TM:           client.NewTM(tmSrv.URL, opts),
		Flights:      client.NewRM(c.flights.url, opts),
		Hotels:       client.NewRM(hotels.url, opts),
		Cars:         client.NewRM(cars.url, opts),
		Customers:    client.NewRM(c.customers.url, opts),
		Reservations: client.NewRM(c.reservations.url, opts),
	}, workflow.Config{AutoAbort: true}, zap.NewNop())

	wcSrv := httptest.NewServer(wchttp.NewServer(controller, zap.NewNop(), telemetry.New("wc"), func() {}))
	t.Cleanup(wcSrv.Close)
	c.wcURL = wcSrv.URL
	return c
}

func mustPrefix(t *testing.T, keyWidth, offsetWidth int) pageindex.PageIndex {
	t.Helper()
	ix, err := pageindex.NewPrefixOrdered(keyWidth, offsetWidth)
	require.NoError(t, err)
	return ix
}

// do performs one JSON request against the cluster and decodes the response.
func (c *cluster) do(method, url, xid string, body interface{}) (int, map[string]interface{}) {
	c.t.Helper()
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, payload)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if xid != "" {
		req.Header.Set("X-Transaction-Id", xid)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func (c *cluster) startTxn() string {
	status, body := c.do(http.MethodPost, c.wcURL+"/txn/start", "", nil)
	require.Equal(c.t, http.StatusCreated, status)
	xid, _ := body["xid"].(string)
	require.NotEmpty(c.t, xid)
	return xid
}

func (c *cluster) commit(xid string) string {
	status, body := c.do(http.MethodPost, c.wcURL+"/txn/commit", xid, nil)
	require.Equal(c.t, http.StatusOK, status)
	return body["status"].(string)
}

func (c *cluster) seedFlight(num string, price, seats, avail int64, version int64) {
	key, err := c.flights.index.Normalize(num)
	require.NoError(c.t, err)
	rec := record.New(key, map[string]interface{}{
		"flightNum": num, "price": price, "numSeats": seats, "numAvail": avail,
	})
	rec.Version = version
	c.flights.backend.Seed(rec)
}

func (c *cluster) seedCustomer(name string, version int64) {
	key, err := c.customers.index.Normalize(name)
	require.NoError(c.t, err)
	rec := record.New(key, map[string]interface{}{"custName": name})
	rec.Version = version
	c.customers.backend.Seed(rec)
}

func (c *cluster) reservationRow(custName, resvType, resvKey string) *record.Record {
	ix := c.reservations.index.(*pageindex.CompositeFixedWidth)
	key, err := ix.EncodeKey(custName, resvType, resvKey)
	require.NoError(c.t, err)
	return c.reservations.backend.Row(key)
}

func TestEndToEnd_ReserveFlightCommits(t *testing.T) {
	c := startCluster(t)
	c.seedFlight("0001", 300, 5, 5, 1)
	c.seedCustomer("alice", 1)

	xid := c.startTxn()
	status, body := c.do(http.MethodPost, c.wcURL+"/flights/0001/reservations", xid,
		map[string]interface{}{"custName": "alice", "count": 1})
	require.Equal(t, http.StatusCreated, status, "body: %v", body)

	require.Equal(t, string(txn.StateCommitted), c.commit(xid))

	// Durable post-state: seat count down, reservation present, versions up.
	row := c.flights.backend.Row("0001")
	require.NotNil(t, row)
	require.EqualValues(t, 4, row.Int("numAvail"))
	require.EqualValues(t, 2, row.Version)

	resv := c.reservationRow("alice", "FLIGHT", "0001")
	require.NotNil(t, resv)
	require.EqualValues(t, 1, resv.Int("count"))

	// Committed state is visible to plain reads through the WC.
	status, body = c.do(http.MethodGet, c.wcURL+"/flights/0001", "", nil)
	require.Equal(t, http.StatusOK, status)
	recBody := body["record"].(map[string]interface{})
	require.EqualValues(t, 4, recBody["numAvail"])
}

func TestEndToEnd_NoOversell(t *testing.T) {
	c := startCluster(t)
	c.seedFlight("0002", 100, 1, 1, 1)
	c.seedCustomer("c1", 1)
	c.seedCustomer("c2", 1)

	x1 := c.startTxn()
	x2 := c.startTxn()

	// Both transactions observe one available seat and stage a decrement.
	status, _ := c.do(http.MethodPost, c.wcURL+"/flights/0002/reservations", x1,
		map[string]interface{}{"custName": "c1", "count": 1})
	require.Equal(t, http.StatusCreated, status)
	status, _ = c.do(http.MethodPost, c.wcURL+"/flights/0002/reservations", x2,
		map[string]interface{}{"custName": "c2", "count": 1})
	require.Equal(t, http.StatusCreated, status)

	// Exactly one commit wins; the loser aborts on the version conflict.
	require.Equal(t, string(txn.StateCommitted), c.commit(x1))
	require.Equal(t, string(txn.StateAborted), c.commit(x2))

	row := c.flights.backend.Row("0002")
	require.EqualValues(t, 0, row.Int("numAvail"))
	require.NotNil(t, c.reservationRow("c1", "FLIGHT", "0002"))
	require.Nil(t, c.reservationRow("c2", "FLIGHT", "0002"))
}

func TestEndToEnd_MissingCustomerAutoAborts(t *testing.T) {
	c := startCluster(t)
	c.seedFlight("0003", 100, 1, 1, 1)

	xid := c.startTxn()
	status, body := c.do(http.MethodPost, c.wcURL+"/flights/0003/reservations", xid,
		map[string]interface{}{"custName": "ghost", "count": 1})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, true, body["transaction_aborted"])

	status, body = c.do(http.MethodGet, c.wcURL+"/txn/"+xid, "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, string(txn.StateAborted), body["status"])

	// Inventory is untouched.
	require.EqualValues(t, 1, c.flights.backend.Row("0003").Int("numAvail"))
}

func TestEndToEnd_InsufficientAvailability(t *testing.T) {
	c := startCluster(t)
	c.seedFlight("0004", 100, 1, 1, 1)
	c.seedCustomer("dan", 1)

	xid := c.startTxn()
	status, body := c.do(http.MethodPost, c.wcURL+"/flights/0004/reservations", xid,
		map[string]interface{}{"custName": "dan", "count": 2})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, string("INSUFFICIENT_AVAILABILITY"), body["err"])
	require.Equal(t, true, body["transaction_aborted"])
}

func TestEndToEnd_CommitIsIdempotentAndTerminalStateWins(t *testing.T) {
	c := startCluster(t)
	c.seedFlight("0005", 100, 5, 5, 1)
	c.seedCustomer("eve", 1)

	xid := c.startTxn()
	status, _ := c.do(http.MethodPost, c.wcURL+"/flights/0005/reservations", xid,
		map[string]interface{}{"custName": "eve", "count": 1})
	require.Equal(t, http.StatusCreated, status)

	require.Equal(t, string(txn.StateCommitted), c.commit(xid))
	require.Equal(t, string(txn.StateCommitted), c.commit(xid), "repeat commit returns the terminal state")

	// Abort after commit also answers with the terminal state.
	status, body := c.do(http.MethodPost, c.wcURL+"/txn/abort", xid, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, string(txn.StateCommitted), body["status"])

	require.EqualValues(t, 4, c.flights.backend.Row("0005").Int("numAvail"))
}

func TestEndToEnd_AddAndDeleteThroughWC(t *testing.T) {
	c := startCluster(t)

	xid := c.startTxn()
	status, _ := c.do(http.MethodPost, c.wcURL+"/customers", xid,
		map[string]interface{}{"custName": "frank"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = c.do(http.MethodPost, c.wcURL+"/flights", xid,
		map[string]interface{}{"flightNum": "0006", "price": 250, "numSeats": 3})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, string(txn.StateCommitted), c.commit(xid))

	row := c.flights.backend.Row("0006")
	require.NotNil(t, row)
	require.EqualValues(t, 3, row.Int("numAvail"))

	// Deleting under a fresh transaction removes the row durably.
	xid = c.startTxn()
	status, _ = c.do(http.MethodDelete, c.wcURL+"/flights/0006", xid, nil)
	require.Equal(t, http.StatusNoContent, status)
	require.Equal(t, string(txn.StateCommitted), c.commit(xid))
	require.Nil(t, c.flights.backend.Row("0006"))
}

func TestEndToEnd_DieGatesRequests(t *testing.T) {
	c := startCluster(t)

	status, _ := c.do(http.MethodPost, c.wcURL+"/admin/die", "", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := c.do(http.MethodGet, c.wcURL+"/flights/0001", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, string("UNAVAILABLE"), body["err"])

	status, _ = c.do(http.MethodPost, c.wcURL+"/admin/reconnect", "", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = c.do(http.MethodGet, c.wcURL+"/health", "", nil)
	require.Equal(t, http.StatusOK, status)
}

func TestEndToEnd_TMStatusUnknownXid(t *testing.T) {
	c := startCluster(t)
	status, _ := c.do(http.MethodGet, c.wcURL+"/txn/no-such-xid", "", nil)
	require.Equal(t, http.StatusNotFound, status)
}
