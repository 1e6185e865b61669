package healthz

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func testRouter(state StateFunc) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", makeHandler(state)).Methods("GET")
	return router
}

func TestHealthzReportsReadyState(t *testing.T) {
	router := testRouter(func() State {
		return State{Ready: true, TopBlockHeight: 42, SessionCount: 3, WatchedAddrs: 10}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var s State
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.TopBlockHeight != 42 || s.SessionCount != 3 {
		t.Fatalf("unexpected state: %+v", s)
	}
}

func TestHealthzReturnsUnavailableWhenNotReady(t *testing.T) {
	router := testRouter(func() State { return State{Ready: false} })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
