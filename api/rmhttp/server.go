// Package rmhttp binds a resource manager to its HTTP surface: record CRUD,
// the 2PC participant endpoints, health, metrics and the failure-injection
// hooks used by the crash tests.
package rmhttp

import (
	"errors"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/core/errcode"
	"github.com/JoDio-zd/DistributeDataBase/core/resource"
	"github.com/JoDio-zd/DistributeDataBase/internal/httputil"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
)

// Server is the HTTP binding of one resource manager.
type Server struct {
	rm      *resource.ResourceManager
	logger  *zap.Logger
	metrics *telemetry.Metrics
	router  *mux.Router

	// shutdown requests a graceful stop of the enclosing process; the
	// default hard-exits for /die.
	shutdown func(graceful bool)
}

// NewServer builds the RM's HTTP handler. shutdown may be nil, in which
// case /shutdown is a no-op and /die exits the process.
func NewServer(rm *resource.ResourceManager, logger *zap.Logger, metrics *telemetry.Metrics, shutdown func(graceful bool)) *Server {
	if shutdown == nil {
		shutdown = func(graceful bool) {
			if !graceful {
				os.Exit(1)
			}
		}
	}
	s := &Server{rm: rm, logger: logger, metrics: metrics, shutdown: shutdown}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router = mux.NewRouter()
	s.handle("/records", http.MethodPost, s.handleAdd)
	s.handle("/records/{key}", http.MethodGet, s.handleRead)
	s.handle("/records/{key}", http.MethodPut, s.handleUpdate)
	s.handle("/records/{key}", http.MethodPatch, s.handleUpdate)
	s.handle("/records/{key}", http.MethodDelete, s.handleDelete)

	s.handle("/txn/prepare", http.MethodPost, s.handlePrepare)
	s.handle("/txn/commit", http.MethodPost, s.handleCommit)
	s.handle("/txn/abort", http.MethodPost, s.handleAbort)
	s.handle("/txn/prepared", http.MethodGet, s.handlePrepared)

	s.handle("/health", http.MethodGet, s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.handle("/shutdown", http.MethodPost, s.handleShutdown)
	s.handle("/die", http.MethodPost, s.handleDie)
}

func (s *Server) handle(route, method string, h http.HandlerFunc) {
	s.router.Handle(route, httputil.Instrument(route, s.metrics, s.logger, h)).Methods(method)
}

// requestXID pulls the transaction id from header, query or, for mutating
// requests, the decoded body.
func requestXID(r *http.Request, bodyXID string) string {
	if xid := httputil.XID(r); xid != "" {
		return xid
	}
	return bodyXID
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	rec, err := s.rm.Read(r.Context(), httputil.XID(r), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"key":     rec.Key,
		"value":   rec.Fields,
		"version": rec.Version,
	})
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		XID   string                 `json:"xid"`
		Key   string                 `json:"key"`
		Value map[string]interface{} `json:"value"`
	}
	if err := httputil.Decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.rm.Add(r.Context(), requestXID(r, body.XID), body.Key, body.Value); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"key": body.Key})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var body struct {
		XID     string                 `json:"xid"`
		Updates map[string]interface{} `json:"updates"`
	}
	if err := httputil.Decode(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.rm.Update(r.Context(), requestXID(r, body.XID), key, body.Updates); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"key": key})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.rm.Delete(r.Context(), httputil.XID(r), key); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePrepare returns the participant's vote. A refusal is a normal 200
// with ok=false: the transaction manager, not the transport, interprets it.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	xid := httputil.XID(r)
	if xid == "" {
		httputil.WriteError(w, errcode.Newf(errcode.InvalidArgument, "prepare without xid"))
		return
	}
	if err := s.rm.Prepare(r.Context(), xid); err != nil {
		resp := map[string]interface{}{"ok": false, "err": string(errcode.CodeOf(err))}
		var structured *errcode.Error
		if errors.As(err, &structured) && structured.Key != "" {
			resp["key"] = structured.Key
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	xid := httputil.XID(r)
	if xid == "" {
		httputil.WriteError(w, errcode.Newf(errcode.InvalidArgument, "commit without xid"))
		return
	}
	if err := s.rm.Commit(r.Context(), xid); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	xid := httputil.XID(r)
	if xid == "" {
		httputil.WriteError(w, errcode.Newf(errcode.InvalidArgument, "abort without xid"))
		return
	}
	if err := s.rm.Abort(r.Context(), xid); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handlePrepared(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"xids": s.rm.PreparedXIDs()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "table": s.rm.Table()})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("shutdown requested")
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	go s.shutdown(true)
}

// handleDie hard-stops the process without cleanup, leaving the prepare
// journal as the only surviving state. The recovery tests drive it.
func (s *Server) handleDie(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("die requested")
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	go s.shutdown(false)
}
