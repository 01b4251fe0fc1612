package handlersTest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmtf-spdm/go-spdm/api/handlers"
	"github.com/dmtf-spdm/go-spdm/internal/audit"
	"github.com/dmtf-spdm/go-spdm/internal/db"
)

func newTestRecorder(t *testing.T) *audit.Recorder {
	t.Helper()
	gdb, err := db.Open(db.Config{Driver: db.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	rec, err := audit.NewRecorder(gdb)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	return rec
}

func TestAuditHandler(t *testing.T) {
	rec := newTestRecorder(t)
	if err := rec.Record(7, audit.EventSessionEstablished, "test"); err != nil {
		t.Fatalf("record event: %v", err)
	}

	handler := handlers.AuditHandler(rec)
	req, _ := http.NewRequest(http.MethodGet, "/audit/sessions/7", nil)
	recorder := httptest.NewRecorder()
	handler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	var events []audit.Event
	if err := json.NewDecoder(recorder.Body).Decode(&events); err != nil {
		t.Fatalf("unable to parse response: %v", err)
	}
	if len(events) != 1 || events[0].Kind != audit.EventSessionEstablished {
		t.Errorf("expected one session_established event, got %+v", events)
	}
}

func TestAuditHandlerInvalidID(t *testing.T) {
	rec := newTestRecorder(t)
	handler := handlers.AuditHandler(rec)

	req, _ := http.NewRequest(http.MethodGet, "/audit/sessions/not-a-number", nil)
	recorder := httptest.NewRecorder()
	handler(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
}
