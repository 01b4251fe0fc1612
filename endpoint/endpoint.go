// Package endpoint implements the Endpoint Facade (§4/C9): the Requester-
// and Responder-side entry points a host process drives, sitting above the
// Connection (C7) and Session (C8) state machines. An Endpoint owns exactly
// one Connection and the map of Session Contexts it negotiates, guarded by
// a single logical lock held across the entire decode->dispatch->encode
// span of one message, per §5.
package endpoint

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/session"
)

// CertSlot is one certificate-chain slot an Endpoint can serve or sign with.
type CertSlot struct {
	Chain      []byte
	SigningKey any // unused on a Requester or for slots that never sign
}

// Config parametrizes a new Endpoint. It mirrors connection.Config plus the
// session-level defaults every negotiated Session inherits.
type Config struct {
	Role               connection.Role
	LocalVersions      []protocol.Version
	LocalCapabilities  protocol.CapabilityFlags
	Priorities         connection.AlgorithmPriorities
	Crypto             cryptoprovider.Provider
	TrustedRootDigests [][]byte
	RootHashAlgo       protocol.BaseHashAlgo
	MaxSPDMMsgSize     int
	// SeqLen is the transport-fixed secured-record sequence-number length
	// (§6); every Session this Endpoint negotiates uses it.
	SeqLen int
}

// Endpoint is one local SPDM role instance: the Connection Context plus its
// Session Contexts, per §3's Data Model. All mutable state is reached only
// while mu is held, matching §5's single-logical-lock-per-endpoint rule.
type Endpoint struct {
	mu sync.Mutex

	cfg       Config
	codec     protocol.Codec
	conn      *connection.Connection
	sessions  map[uint32]*session.Session
	certSlots [8]*CertSlot
	psks      map[string]cryptoprovider.Secret

	// nextSessionID is bumped by a Responder each time it allocates a new
	// session_id in KEY_EXCHANGE_RSP/PSK_EXCHANGE_RSP.
	nextSessionID uint32
}

// New constructs an Endpoint and its underlying Connection. Certificate
// slots and PSKs are installed afterward via SetCertChain/SetPSK.
func New(cfg Config) *Endpoint {
	e := &Endpoint{
		cfg:      cfg,
		sessions: make(map[uint32]*session.Session),
		psks:     make(map[string]cryptoprovider.Secret),
		// Responder session_ids start at a fixed, non-zero base so a fresh
		// Endpoint never reuses 0 (reserved by convention for "no session").
		nextSessionID: 1,
	}
	e.rebuildConnection()
	return e
}

func (e *Endpoint) rebuildConnection() {
	var slots [8]*connection.CertSlot
	for i, s := range e.certSlots {
		if s != nil {
			slots[i] = &connection.CertSlot{Chain: s.Chain}
		}
	}
	e.conn = connection.New(connection.Config{
		Role:               e.cfg.Role,
		LocalVersions:      e.cfg.LocalVersions,
		LocalCapabilities:  e.cfg.LocalCapabilities,
		Priorities:         e.cfg.Priorities,
		Crypto:             e.cfg.Crypto,
		CertSlots:          slots,
		TrustedRootDigests: e.cfg.TrustedRootDigests,
		RootHashAlgo:       e.cfg.RootHashAlgo,
		MaxSPDMMsgSize:     e.cfg.MaxSPDMMsgSize,
	})
	for i, s := range e.certSlots {
		if s != nil && s.SigningKey != nil {
			e.conn.SetSigningKey(uint8(i), s.SigningKey)
		}
	}
}

// SetCertChain installs a certificate chain (and, for slots this endpoint
// signs with, the matching private key) into slot, 0..7. Must be called
// before the connection's GET_VERSION/VERSION exchange begins.
func (e *Endpoint) SetCertChain(slot uint8, chain []byte, signingKey any) error {
	if slot > 7 {
		return fmt.Errorf("endpoint: certificate slot %d out of range 0..7", slot)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.certSlots[slot] = &CertSlot{Chain: chain, SigningKey: signingKey}
	e.rebuildConnection()
	return nil
}

// SetPSK installs a pre-shared key identified by hint, consumed by
// PSK_EXCHANGE/PSK_EXCHANGE_RSP.
func (e *Endpoint) SetPSK(hint string, key cryptoprovider.Secret) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.psks[hint] = key
}

// SetMeasurements installs the firmware measurement blocks a Responder
// serves from GET_MEASUREMENTS.
func (e *Endpoint) SetMeasurements(blocks []protocol.MeasurementBlock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn.SetMeasurements(blocks)
}

// Connection exposes the underlying Connection for callers that need
// negotiated-state introspection (e.g. an admin API reporting the chosen
// AlgorithmSuite). The returned pointer must not be mutated by the caller.
func (e *Endpoint) Connection() *connection.Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

// Session looks up a live Session Context by id, for introspection only;
// callers drive sessions through the Endpoint's own methods, never directly.
func (e *Endpoint) Session(sessionID uint32) (*session.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

// SessionIDs returns the ids of every live Session Context, for
// introspection (e.g. an admin API listing active sessions).
func (e *Endpoint) SessionIDs() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uint32, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (e *Endpoint) allocateSessionID() uint32 {
	for {
		id := e.nextSessionID
		e.nextSessionID++
		if id != 0 {
			if _, taken := e.sessions[id]; !taken {
				return id
			}
		}
	}
}

func (e *Endpoint) dropSession(id uint32) {
	if s, ok := e.sessions[id]; ok {
		s.Terminate()
		delete(e.sessions, id)
		slog.Debug("spdm: session dropped", "session_id", fmt.Sprintf("0x%08x", id))
	}
}
