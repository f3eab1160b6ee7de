// Package tmhttp binds the transaction manager to its HTTP surface.
package tmhttp

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/core/txn"
	"github.com/JoDio-zd/DistributeDataBase/internal/httputil"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
)

// Server is the HTTP binding of the transaction manager.
type Server struct {
	tm      *txn.Manager
	logger  *zap.Logger
	metrics *telemetry.Metrics
	router  *mux.Router
	die     func()
}

// NewServer builds the TM's HTTP handler. die may be nil; the default
// hard-exits the process.
func NewServer(tm *txn.Manager, logger *zap.Logger, metrics *telemetry.Metrics, die func()) *Server {
	if die == nil {
		die = func() { os.Exit(1) }
	}
	s := &Server{tm: tm, logger: logger, metrics: metrics, die: die}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router = mux.NewRouter()
	s.handle("/txn/start", http.MethodPost, s.handleStart)
	s.handle("/txn/commit", http.MethodPost, s.handleCommit)
	s.handle("/txn/abort", http.MethodPost, s.handleAbort)
	s.handle("/txn/enlist", http.MethodPost, s.handleEnlist)
	s.handle("/txn/{xid}", http.MethodGet, s.handleStatus)
	s.handle("/health", http.MethodGet, s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.handle("/die", http.MethodPost, s.handleDie)
}

func (s *Server) handle(route, method string, h http.HandlerFunc) {
	s.router.Handle(route, httputil.Instrument(route, s.metrics, s.logger, h)).Methods(method)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	t := s.tm.Start()
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"xid":    t.XID,
		"status": string(t.State),
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	xid := httputil.XID(r)
	if xid == "" {
		httputil.WriteError(w, errcode.Newf(errcode.InvalidArgument, "commit without xid"))
		return
	}
	state, err := s.tm.Commit(r.Context(), xid)
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

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	xid := httputil.XID(r)
	if xid == "" {
		httputil.WriteError(w, errcode.Newf(errcode.InvalidArgument, "abort without xid"))
		return
	}
	state, err := s.tm.Abort(r.Context(), xid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"xid": xid, "status": string(state)})
}

func (s *Server) handleEnlist(w http.ResponseWriter, r *http.Request) {
	xid := httputil.XID(r)
	var body struct {
		XID      string `json:"xid"`
		Endpoint string `json:"endpoint"`
	}
	if err := httputil.Decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if xid == "" {
		xid = body.XID
	}
	if err := s.tm.Enlist(xid, body.Endpoint); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	xid := mux.Vars(r)["xid"]
	state, err := s.tm.Status(xid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"xid": xid, "status": string(state)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDie(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("die requested")
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	go s.die()
}
