// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dmtf-spdm/go-spdm/connection"
)

// ConnectionInfo summarizes one Endpoint's negotiated Connection state, for
// GET /connection.
type ConnectionInfo struct {
	State      string `json:"state"`
	Version    string `json:"version"`
	BaseHash   string `json:"base_hash,omitempty"`
	BaseAsym   string `json:"base_asym,omitempty"`
	DHEGroup   string `json:"dhe_group,omitempty"`
	AEADCipher string `json:"aead_cipher,omitempty"`
}

// ConnectionSource is implemented by *endpoint.Endpoint.
type ConnectionSource interface {
	Connection() *connection.Connection
}

// ConnectionHandler reports the negotiated Connection state of src.
// Exposed as GET /connection.
func ConnectionHandler(src ConnectionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		conn := src.Connection()
		info := ConnectionInfo{
			State:   conn.State.String(),
			Version: conn.Version.String(),
		}
		if conn.State >= connection.Negotiated {
			info.BaseHash = conn.Suite.BaseHash.String()
			info.BaseAsym = conn.Suite.BaseAsym.String()
			info.DHEGroup = conn.Suite.DHEGroup.String()
			info.AEADCipher = conn.Suite.AEADCipher.String()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}
