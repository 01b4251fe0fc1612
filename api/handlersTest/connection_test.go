package handlersTest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmtf-spdm/go-spdm/api/handlers"
	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider/stdprovider"
	"github.com/dmtf-spdm/go-spdm/endpoint"
)

func newTestEndpoint() *endpoint.Endpoint {
	return endpoint.New(endpoint.Config{
		Role:   connection.RoleResponder,
		Crypto: stdprovider.New(),
		SeqLen: 2,
	})
}

func TestConnectionHandler(t *testing.T) {
	ep := newTestEndpoint()
	handler := handlers.ConnectionHandler(ep)

	req, err := http.NewRequest(http.MethodGet, "/connection", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	recorder := httptest.NewRecorder()
	handler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	var info handlers.ConnectionInfo
	if err := json.NewDecoder(recorder.Body).Decode(&info); err != nil {
		t.Fatalf("unable to parse response: %v", err)
	}
	if info.State != "NotStarted" {
		t.Errorf("expected state NotStarted for a fresh endpoint, got %q", info.State)
	}
	if info.BaseHash != "" {
		t.Errorf("expected no negotiated suite before NEGOTIATE_ALGORITHMS, got %q", info.BaseHash)
	}
}

func TestConnectionHandlerMethodNotAllowed(t *testing.T) {
	ep := newTestEndpoint()
	handler := handlers.ConnectionHandler(ep)

	req, _ := http.NewRequest(http.MethodPost, "/connection", nil)
	recorder := httptest.NewRecorder()
	handler(recorder, req)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, recorder.Code)
	}
}
