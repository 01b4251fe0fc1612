// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmtf-spdm/go-spdm/session"
)

// SessionInfo summarizes one live Session Context.
type SessionInfo struct {
	SessionID uint32 `json:"session_id"`
	State     string `json:"state"`
}

// SessionSource is implemented by *endpoint.Endpoint.
type SessionSource interface {
	SessionIDs() []uint32
	Session(sessionID uint32) (*session.Session, bool)
}

// SessionsHandler lists every live session (GET /sessions) or reports one by
// id (GET /sessions/{id}).
func SessionsHandler(src SessionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		idStr := strings.TrimPrefix(r.URL.Path, "/sessions/")
		if idStr == "" || idStr == r.URL.Path {
			ids := src.SessionIDs()
			infos := make([]SessionInfo, 0, len(ids))
			for _, id := range ids {
				if s, ok := src.Session(id); ok {
					infos = append(infos, SessionInfo{SessionID: id, State: s.State.String()})
				}
			}
			json.NewEncoder(w).Encode(infos)
			return
		}

		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}
		s, ok := src.Session(uint32(id))
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(SessionInfo{SessionID: uint32(id), State: s.State.String()})
	}
}
