// Package transcript maintains the running digests the connection and
// session state machines snapshot before signing or deriving keys. Each
// scope is an independent incremental hasher; scopes are never shared.
package transcript

import (
	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
)

// Scope names one of the transcript digests a Manager tracks.
type Scope int

const (
	// ScopeVCA covers Version + Capabilities + Algorithms negotiation.
	ScopeVCA Scope = iota
	// ScopeM1M2 covers the mutual-authentication (CHALLENGE) exchange.
	ScopeM1M2
	// ScopeL1L2 covers the measurement exchange.
	ScopeL1L2
	// ScopeTH is the per-session handshake-and-data transcript.
	ScopeTH
	numScopes
)

// Manager owns the independent hashers for one endpoint or session. A
// connection-level Manager tracks VCA/M1M2/L1L2; a session-level Manager
// (one per session_id) tracks TH, seeded from the VCA/cert transcript up to
// the point the session was established.
type Manager struct {
	hasher  cryptoprovider.Hasher
	algo    protocol.BaseHashAlgo
	digests [numScopes]cryptoprovider.Digester
}

// New constructs a Manager using algo for every scope's digest. algo is
// fixed once negotiated; a Manager is never reused across algorithm
// suites.
func New(hasher cryptoprovider.Hasher, algo protocol.BaseHashAlgo) (*Manager, error) {
	m := &Manager{hasher: hasher, algo: algo}
	for s := Scope(0); s < numScopes; s++ {
		d, err := hasher.NewDigester(algo)
		if err != nil {
			return nil, err
		}
		m.digests[s] = d
	}
	return m, nil
}

// Append feeds the exact wire bytes of one covered PDU, in transmission
// order, into scope's running hash.
func (m *Manager) Append(scope Scope, wireBytes []byte) {
	m.digests[scope].Write(wireBytes)
}

// Snapshot returns the current digest for scope without resetting it;
// hashing continues from this state for subsequent Append calls.
func (m *Manager) Snapshot(scope Scope) []byte {
	return m.digests[scope].Sum()
}

// Reset clears scope's running hash back to empty.
func (m *Manager) Reset(scope Scope) {
	m.digests[scope].Reset()
}

// SeedBytes primes dst by replaying already-transmitted wire bytes, e.g.
// carrying the VCA+certificate transcript into a fresh session's TH scope
// at KEY_EXCHANGE time.
func (m *Manager) SeedBytes(dst Scope, wireBytes ...[]byte) {
	for _, b := range wireBytes {
		m.digests[dst].Write(b)
	}
}
