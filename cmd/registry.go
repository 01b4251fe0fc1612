// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"sync"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/endpoint"
	"github.com/dmtf-spdm/go-spdm/session"
)

// endpointRegistry tracks every Endpoint a responder has accepted a
// connection for, so the admin HTTP API (api.NewHTTPHandler) has something
// to report against in a process serving more than one peer at a time.
type endpointRegistry struct {
	mu  sync.Mutex
	eps []*endpoint.Endpoint
}

func (r *endpointRegistry) add(ep *endpoint.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eps = append(r.eps, ep)
}

// Connection reports the most recently accepted connection's negotiated
// state, satisfying handlers.ConnectionSource.
func (r *endpointRegistry) Connection() *connection.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.eps) == 0 {
		return connection.New(connection.Config{Role: connection.RoleResponder})
	}
	return r.eps[len(r.eps)-1].Connection()
}

// SessionIDs aggregates live session ids across every accepted connection,
// satisfying handlers.SessionSource.
func (r *endpointRegistry) SessionIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint32
	for _, ep := range r.eps {
		ids = append(ids, ep.SessionIDs()...)
	}
	return ids
}

// Session looks sessionID up across every accepted connection.
func (r *endpointRegistry) Session(sessionID uint32) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ep := range r.eps {
		if s, ok := ep.Session(sessionID); ok {
			return s, true
		}
	}
	return nil, false
}
