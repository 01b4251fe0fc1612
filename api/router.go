// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package api wires the introspection/admin HTTP surface a CLI host exposes
// alongside the SPDM transport itself: health, negotiated Connection state,
// live Session listing, and the audit trail. None of it is reachable from
// the wire protocol; it is a side door for operators.
package api

import (
	"net/http"

	"github.com/dmtf-spdm/go-spdm/api/handlers"
)

// NewHTTPHandler builds the admin mux for one Endpoint's state, backed by
// the audit Recorder if one is configured.
func NewHTTPHandler(conn handlers.ConnectionSource, sessions handlers.SessionSource, auditSrc handlers.AuditSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HealthHandler)
	mux.HandleFunc("/connection", handlers.ConnectionHandler(conn))
	mux.HandleFunc("/sessions", handlers.SessionsHandler(sessions))
	mux.HandleFunc("/sessions/", handlers.SessionsHandler(sessions))
	if auditSrc != nil {
		mux.HandleFunc("/audit/sessions/", handlers.AuditHandler(auditSrc))
	}
	return mux
}
