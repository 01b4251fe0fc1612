package handlersTest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmtf-spdm/go-spdm/api/handlers"
)

func TestSessionsHandlerEmpty(t *testing.T) {
	ep := newTestEndpoint()
	handler := handlers.SessionsHandler(ep)

	req, _ := http.NewRequest(http.MethodGet, "/sessions", nil)
	recorder := httptest.NewRecorder()
	handler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	var infos []handlers.SessionInfo
	if err := json.NewDecoder(recorder.Body).Decode(&infos); err != nil {
		t.Fatalf("unable to parse response: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected no live sessions on a fresh endpoint, got %d", len(infos))
	}
}

func TestSessionsHandlerNotFound(t *testing.T) {
	ep := newTestEndpoint()
	handler := handlers.SessionsHandler(ep)

	req, _ := http.NewRequest(http.MethodGet, "/sessions/42", nil)
	recorder := httptest.NewRecorder()
	handler(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, recorder.Code)
	}
}
