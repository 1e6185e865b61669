// Package healthz implements the liveness and shallow-state HTTP
// endpoint of spec.md §4.8, grounded on the teacher's gorilla/mux route
// table (apiserver/server/routes.go) and its http.Server construction
// in infrastructure/network/rpc/rpcserver.go.
package healthz

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// StateFunc reports the gauges surfaced at /healthz: whether the
// initial load has completed, the top block height, and how many
// sessions and watched addresses are currently registered.
type StateFunc func() State

// State is one snapshot of the server's health gauges.
type State struct {
	Ready          bool   `json:"ready"`
	TopBlockHeight uint32 `json:"topBlockHeight"`
	SessionCount   int    `json:"sessionCount"`
	WatchedAddrs   int    `json:"watchedAddrCount"`
}

// Server is the tiny HTTP server exposing /healthz.
type Server struct {
	httpServer *http.Server
}

// New builds a healthz Server listening on addr, calling state on each
// request.
func New(addr string, state StateFunc) *Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", makeHandler(state)).Methods("GET")

	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     router,
			ReadTimeout: 5 * time.Second,
		},
	}
}

func makeHandler(state StateFunc) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s := state()
		w.Header().Set("Content-Type", "application/json")
		if !s.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(s); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// ListenAndServe blocks serving /healthz until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
