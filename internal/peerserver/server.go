// Package peerserver implements the HTTP-side RPC surface that a remote
// PeerClient dials into: Register, Unregister, HeartBeat, SyncLog,
// ChangeRole, and NewLeader.
package peerserver

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/infinidb/clusterd/internal/clustermanager"
	"github.com/infinidb/clusterd/internal/logger"
	"github.com/infinidb/clusterd/internal/wal"
)

// APIEndpoint groups one RPC path with its handler.
type APIEndpoint struct {
	Path    string
	Handler http.HandlerFunc
}

// Server hosts the peer RPC surface for one ClusterManager instance.
type Server struct {
	manager *clustermanager.Manager
	storage wal.Storage
	router  *mux.Router
}

// New builds a Server bound to manager/storage and registers every route.
func New(manager *clustermanager.Manager, storage wal.Storage) *Server {
	s := &Server{manager: manager, storage: storage, router: mux.NewRouter()}
	for _, ep := range s.endpoints() {
		s.router.HandleFunc(ep.Path, withRequestID(ep.Handler)).Methods(http.MethodPost)
	}
	return s
}

// withRequestID stamps every peer RPC with a correlation id, surfaced both
// in the response header and in the request-scoped log line, so a single
// exchange can be traced across the leader's and the peer's logs.
func withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		logger.Trace("peer rpc received", logger.Ctx{"request_id": reqID, "path": r.URL.Path})
		next(w, r)
	}
}

// Router exposes the underlying gorilla/mux router, e.g. for http.Serve.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) endpoints() []APIEndpoint {
	return []APIEndpoint{
		{Path: "/peer/ping", Handler: s.handlePing},
		{Path: "/peer/register", Handler: s.handleRegister},
		{Path: "/peer/unregister", Handler: s.handleUnregister},
		{Path: "/peer/heartbeat", Handler: s.handleHeartBeat},
		{Path: "/peer/synclog", Handler: s.handleSyncLog},
		{Path: "/peer/changerole", Handler: s.handleChangeRole},
		{Path: "/peer/newleader", Handler: s.handleNewLeader},
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct{}{})
}

func decodeRequest(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode peer response", logger.Ctx{"error": err.Error()})
	}
}
