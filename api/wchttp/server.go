// Package wchttp binds the workflow controller to its HTTP surface: the
// travel-booking business routes, transaction control passthrough and the
// admin endpoints. Every route except health, metrics and admin is gated on
// the controller's availability flag; health checks the flag itself and
// answers 503 while the controller is down.
package wchttp

import (
	"context"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/core/txn"
	"github.com/JoDio-zd/DistributeDataBase/core/workflow"
	"github.com/JoDio-zd/DistributeDataBase/internal/httputil"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
)

// Server is the HTTP binding of the workflow controller.
type Server struct {
	wc      *workflow.Controller
	logger  *zap.Logger
	metrics *telemetry.Metrics
	router  *mux.Router
	exit    func()
}

// NewServer builds the WC's HTTP handler. exit is invoked by POST
// /admin/die?terminate=true; nil means os.Exit.
func NewServer(wc *workflow.Controller, logger *zap.Logger, metrics *telemetry.Metrics, exit func()) *Server {
	if exit == nil {
		exit = func() { os.Exit(1) }
	}
	s := &Server{wc: wc, logger: logger, metrics: metrics, exit: exit}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router = mux.NewRouter()

	// Inventory routes: flights keyed by flight number, hotels and cars by
	// location. The add/query/delete/reserve shape is identical per table.
	s.gated("/flights", http.MethodPost, s.handleAddFlight)
	s.gated("/flights/{key}", http.MethodGet, s.queryHandler(s.wc.QueryFlight))
	s.gated("/flights/{key}", http.MethodDelete, s.deleteHandler(s.wc.DeleteFlight))
	s.gated("/flights/{key}/reservations", http.MethodPost, s.reserveHandler(s.wc.ReserveFlight))

	s.gated("/hotels", http.MethodPost, s.handleAddRooms)
	s.gated("/hotels/{key}", http.MethodGet, s.queryHandler(s.wc.QueryRooms))
	s.gated("/hotels/{key}", http.MethodDelete, s.deleteHandler(s.wc.DeleteRooms))
	s.gated("/hotels/{key}/reservations", http.MethodPost, s.reserveHandler(s.wc.ReserveRoom))

	s.gated("/cars", http.MethodPost, s.handleAddCars)
	s.gated("/cars/{key}", http.MethodGet, s.queryHandler(s.wc.QueryCars))
	s.gated("/cars/{key}", http.MethodDelete, s.deleteHandler(s.wc.DeleteCars))
	s.gated("/cars/{key}/reservations", http.MethodPost, s.reserveHandler(s.wc.ReserveCar))

	s.gated("/customers", http.MethodPost, s.handleAddCustomer)
	s.gated("/customers/{key}", http.MethodGet, s.queryHandler(s.wc.QueryCustomer))
	s.gated("/customers/{key}", http.MethodDelete, s.deleteHandler(s.wc.DeleteCustomer))

	s.gated("/txn/start", http.MethodPost, s.handleTxnStart)
	s.gated("/txn/commit", http.MethodPost, s.handleTxnCommit)
	s.gated("/txn/abort", http.MethodPost, s.handleTxnAbort)
	s.gated("/txn/{xid}", http.MethodGet, s.handleTxnStatus)

	s.handle("/admin/reconnect", http.MethodPost, s.handleReconnect)
	s.handle("/admin/die", http.MethodPost, s.handleDie)
	s.handle("/health", http.MethodGet, s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

func (s *Server) handle(route, method string, h http.HandlerFunc) {
	s.router.Handle(route, httputil.Instrument(route, s.metrics, s.logger, h)).Methods(method)
}

// gated wraps a handler with the availability check: after /admin/die the
// controller answers 503 until a reconnect revives it.
func (s *Server) gated(route, method string, h http.HandlerFunc) {
	s.handle(route, method, func(w http.ResponseWriter, r *http.Request) {
		if !s.wc.Available() {
			httputil.WriteError(w, errcode.Newf(errcode.Unavailable, "workflow controller is down"))
			return
		}
		h(w, r)
	})
}

// --- inventory adds (shape differs per table only in field names) ---

func (s *Server) handleAddFlight(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FlightNum string      `json:"flightNum"`
		Price     interface{} `json:"price"`
		NumSeats  interface{} `json:"numSeats"`
	}
	if err := httputil.Decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	err := s.wc.AddFlight(r.Context(), httputil.XID(r), body.FlightNum,
		cast.ToInt64(body.Price), cast.ToInt64(body.NumSeats))
	s.created(w, err, map[string]string{"flightNum": body.FlightNum})
}

func (s *Server) handleAddRooms(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Location string      `json:"location"`
		Price    interface{} `json:"price"`
		NumRooms interface{} `json:"numRooms"`
	}
	if err := httputil.Decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	err := s.wc.AddRooms(r.Context(), httputil.XID(r), body.Location,
		cast.ToInt64(body.Price), cast.ToInt64(body.NumRooms))
	s.created(w, err, map[string]string{"location": body.Location})
}

func (s *Server) handleAddCars(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Location string      `json:"location"`
		Price    interface{} `json:"price"`
		NumCars  interface{} `json:"numCars"`
	}
	if err := httputil.Decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	err := s.wc.AddCars(r.Context(), httputil.XID(r), body.Location,
		cast.ToInt64(body.Price), cast.ToInt64(body.NumCars))
	s.created(w, err, map[string]string{"location": body.Location})
}

func (s *Server) handleAddCustomer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustName string `json:"custName"`
	}
	if err := httputil.Decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	err := s.wc.AddCustomer(r.Context(), httputil.XID(r), body.CustName)
	s.created(w, err, map[string]string{"custName": body.CustName})
}

// --- generic per-table handlers ---

func (s *Server) queryHandler(query func(ctx context.Context, xid, key string) (map[string]interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields, err := query(r.Context(), httputil.XID(r), mux.Vars(r)["key"])
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"record": fields})
	}
}

func (s *Server) deleteHandler(del func(ctx context.Context, xid, key string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := del(r.Context(), httputil.XID(r), mux.Vars(r)["key"]); err != nil {
			httputil.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) reserveHandler(reserve func(ctx context.Context, xid, custName, key string, qty int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CustName string      `json:"custName"`
			Count    interface{} `json:"count"`
		}
		if err := httputil.Decode(r, &body); err != nil {
			httputil.WriteError(w, err)
			return
		}
		qty := cast.ToInt64(body.Count)
		if qty == 0 {
			qty = 1
		}
		err := reserve(r.Context(), httputil.XID(r), body.CustName, mux.Vars(r)["key"], qty)
		s.created(w, err, map[string]interface{}{"custName": body.CustName, "count": qty})
	}
}

func (s *Server) created(w http.ResponseWriter, err error, body interface{}) {
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, body)
}

// --- transaction control ---

func (s *Server) handleTxnStart(w http.ResponseWriter, r *http.Request) {
	xid, err := s.wc.Start(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"xid": xid, "status": string(txn.StateActive)})
}

func (s *Server) handleTxnCommit(w http.ResponseWriter, r *http.Request) {
	xid := httputil.XID(r)
	if xid == "" {
		httputil.WriteError(w, errcode.Newf(errcode.InvalidArgument, "commit without xid"))
		return
	}
	state, err := s.wc.Commit(r.Context(), xid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := map[string]string{"xid": xid, "status": string(state)}
	if state == txn.StateInDoubt {
		resp["message"] = "decision pending; poll GET /txn/" + xid
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTxnAbort(w http.ResponseWriter, r *http.Request) {
	xid := httputil.XID(r)
	if xid == "" {
		httputil.WriteError(w, errcode.Newf(errcode.InvalidArgument, "abort without xid"))
		return
	}
	state, err := s.wc.Abort(r.Context(), xid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"xid": xid, "status": string(state)})
}

func (s *Server) handleTxnStatus(w http.ResponseWriter, r *http.Request) {
	xid := mux.Vars(r)["xid"]
	state, err := s.wc.Status(r.Context(), xid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"xid": xid, "status": string(state)})
}

// --- admin ---

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	probes := s.wc.Reconnect(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "targets": probes})
}

func (s *Server) handleDie(w http.ResponseWriter, r *http.Request) {
	s.wc.Die()
	terminate := r.URL.Query().Get("terminate") == "true"
	s.logger.Warn("die requested", zap.Bool("terminate", terminate))
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	if terminate {
		go s.exit()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.wc.Available() {
		httputil.WriteError(w, errcode.Newf(errcode.Unavailable, "workflow controller is down"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
