// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmtf-spdm/go-spdm/internal/audit"
)

// AuditSource is implemented by *audit.Recorder.
type AuditSource interface {
	ForSession(sessionID uint32) ([]audit.Event, error)
}

// AuditHandler reports the recorded lifecycle trail for one session.
// Exposed as GET /audit/sessions/{id}.
func AuditHandler(src AuditSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		idStr := strings.TrimPrefix(r.URL.Path, "/audit/sessions/")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}
		events, err := src.ForSession(uint32(id))
		if err != nil {
			http.Error(w, "error reading audit trail", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}
