package handlersTest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmtf-spdm/go-spdm/api/handlers"
)

func TestHealthHandler(t *testing.T) {
	t.Run("GET /health", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, "/health", nil)
		if err != nil {
			t.Fatalf("failed to create request: %v", err)
		}
		recorder := httptest.NewRecorder()
		handlers.HealthHandler(recorder, req)

		if recorder.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
		}
		var body handlers.HealthResponse
		if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
			t.Fatalf("unable to parse health response: %v", err)
		}
		if body.Status != "OK" {
			t.Errorf("expected status 'OK', got %q", body.Status)
		}
	})

	t.Run("POST /health - method not allowed", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "/health", nil)
		if err != nil {
			t.Fatalf("failed to create request: %v", err)
		}
		recorder := httptest.NewRecorder()
		handlers.HealthHandler(recorder, req)

		if recorder.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, recorder.Code)
		}
	})
}
