package endpoint

import (
	"encoding/binary"
	"log/slog"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/session"
)

// plainCodes are the request codes that always ride as plain (unsecured)
// SPDM messages, even after a session exists: version/capability/algorithm
// negotiation, certificate retrieval, authentication, measurement exchange,
// and the two session-establishment handshakes. Every other in-session
// request (KEY_UPDATE, END_SESSION, HEARTBEAT) rides wrapped in a DSP0277
// secured record, per §4.6/§4.8.
var plainCodes = map[protocol.RequestResponseCode]bool{
	protocol.CodeGetVersion:          true,
	protocol.CodeGetCapabilities:     true,
	protocol.CodeNegotiateAlgorithms: true,
	protocol.CodeGetDigests:          true,
	protocol.CodeGetCertificate:      true,
	protocol.CodeChallenge:           true,
	protocol.CodeGetMeasurements:     true,
	protocol.CodeKeyExchange:         true,
	protocol.CodeFinish:              true,
	protocol.CodePSKExchange:         true,
	protocol.CodePSKFinish:           true,
}

// ProcessRequest is the Responder-side entry point (§6): it decodes one
// request, dispatches it to the Connection or Session state machine, and
// returns the encoded response. A returned error is always a *protocol.Error
// carrying the ErrorKind to encode as an SPDM ERROR reply; per §7, ERROR
// replies never themselves mutate state, so the caller may always encode
// and send err's wire form without further bookkeeping.
func (e *Endpoint) ProcessRequest(reqBytes []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if looksLikePlainHeader(reqBytes) {
		return e.dispatchPlain(reqBytes)
	}
	return e.dispatchSecured(reqBytes)
}

// looksLikePlainHeader reports whether buf opens with a recognized SPDM
// version byte followed by a recognized request code, the signal this
// transport uses to distinguish a plain SPDM message from an opaque
// secured record (whose first four bytes are instead a session_id).
func looksLikePlainHeader(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	switch protocol.Version(buf[0]) {
	case protocol.Version10, protocol.Version11, protocol.Version12:
	default:
		return false
	}
	return plainCodes[protocol.RequestResponseCode(buf[1])]
}

func (e *Endpoint) dispatchPlain(reqBytes []byte) ([]byte, error) {
	_, msg, err := e.codec.Decode(reqBytes)
	if err != nil {
		if pe, ok := err.(*protocol.Error); ok {
			return e.encodeError(pe), nil
		}
		return e.encodeError(protocol.WrapError(protocol.ErrorKindInvalidRequest, "decode failed", err)), nil
	}

	switch msg.(type) {
	case protocol.KeyExchange:
		return e.handleKeyExchange(reqBytes)
	case protocol.Finish:
		return e.handleFinish(reqBytes)
	case protocol.PSKExchange:
		return e.handlePSKExchange(reqBytes)
	case protocol.PSKFinish:
		return e.handlePSKFinish(reqBytes)
	default:
		rspBytes, perr := e.conn.HandleRequest(reqBytes)
		if perr != nil {
			slog.Debug("spdm: connection request refused", "kind", perr.Kind, "err", perr)
			return e.encodeError(perr), nil
		}
		return rspBytes, nil
	}
}

func (e *Endpoint) encodeError(perr *protocol.Error) []byte {
	return e.codec.EncodeError(e.conn.Version, perr.Kind, perr.Data)
}

func (e *Endpoint) sessionConfig(peerSlotID uint8) session.Config {
	return session.Config{
		Role:              connection.RoleResponder,
		Crypto:            e.cfg.Crypto,
		Version:           e.conn.Version,
		Suite:             e.conn.Suite,
		SeqLen:            e.cfg.SeqLen,
		LocalCapabilities: e.cfg.LocalCapabilities,
		TranscriptSeed:    e.conn.SessionTranscriptSeed(),
		SessionID:         e.allocateSessionID(),
		LocalSlotID:       peerSlotID,
		LocalSigningKey:   e.signingKeyFor(peerSlotID),
	}
}

func (e *Endpoint) signingKeyFor(slot uint8) any {
	if int(slot) >= len(e.certSlots) || e.certSlots[slot] == nil {
		return nil
	}
	return e.certSlots[slot].SigningKey
}

func (e *Endpoint) handleKeyExchange(reqBytes []byte) ([]byte, error) {
	_, msg, _ := e.codec.Decode(reqBytes)
	ke := msg.(protocol.KeyExchange)
	cfg := e.sessionConfig(ke.SlotID)
	cfg.PeerCapabilities = e.cfg.LocalCapabilities // the local capabilities stand in for the peer's, as on the Requester side

	s, err := session.New(cfg)
	if err != nil {
		return e.encodeError(protocol.WrapError(protocol.ErrorKindInternalError, "new session", err)), nil
	}
	rspBytes, perr := s.HandleKeyExchange(reqBytes)
	if perr != nil {
		return e.encodeError(perr), nil
	}
	e.sessions[s.SessionID] = s
	slog.Debug("spdm: session handshake started", "session_id", s.SessionID)
	return rspBytes, nil
}

func (e *Endpoint) handleFinish(reqBytes []byte) ([]byte, error) {
	s := e.lastHandshaking()
	if s == nil {
		return e.encodeError(protocol.NewError(protocol.ErrorKindUnexpectedRequest, "FINISH with no handshaking session")), nil
	}
	var peerLeafKey any
	if chain := e.conn.PeerCertChain(); len(chain) > 0 {
		if key, err := e.cfg.Crypto.ParseLeaf(chain); err == nil {
			peerLeafKey = key
		}
	}
	rspBytes, perr := s.HandleFinish(reqBytes, peerLeafKey)
	if perr != nil {
		delete(e.sessions, s.SessionID)
		return e.encodeError(perr), nil
	}
	slog.Debug("spdm: session established", "session_id", s.SessionID)
	return rspBytes, nil
}

func (e *Endpoint) handlePSKExchange(reqBytes []byte) ([]byte, error) {
	_, msg, _ := e.codec.Decode(reqBytes)
	pe := msg.(protocol.PSKExchange)
	psk, ok := e.psks[string(pe.PSKHint)]
	if !ok {
		return e.encodeError(protocol.NewError(protocol.ErrorKindInvalidRequest, "unknown PSK hint")), nil
	}
	cfg := session.Config{
		Role:              connection.RoleResponder,
		Crypto:            e.cfg.Crypto,
		Version:           e.conn.Version,
		Suite:             e.conn.Suite,
		SeqLen:            e.cfg.SeqLen,
		LocalCapabilities: e.cfg.LocalCapabilities,
		PeerCapabilities:  e.cfg.LocalCapabilities,
		TranscriptSeed:    e.conn.SessionTranscriptSeed(),
		SessionID:         e.allocateSessionID(),
		PSK:               psk,
	}
	s, err := session.New(cfg)
	if err != nil {
		return e.encodeError(protocol.WrapError(protocol.ErrorKindInternalError, "new session", err)), nil
	}
	rspBytes, perr := s.HandlePSKExchange(reqBytes)
	if perr != nil {
		return e.encodeError(perr), nil
	}
	e.sessions[s.SessionID] = s
	return rspBytes, nil
}

func (e *Endpoint) handlePSKFinish(reqBytes []byte) ([]byte, error) {
	s := e.lastHandshaking()
	if s == nil {
		return e.encodeError(protocol.NewError(protocol.ErrorKindUnexpectedRequest, "PSK_FINISH with no handshaking session")), nil
	}
	rspBytes, perr := s.HandlePSKFinish(reqBytes)
	if perr != nil {
		delete(e.sessions, s.SessionID)
		return e.encodeError(perr), nil
	}
	return rspBytes, nil
}

// lastHandshaking returns the most recently created Session still in the
// Handshaking state. A Responder handling FINISH/PSK_FINISH addresses the
// single session it most recently started the handshake for; the transport
// binding (one Channel per logical connection) never interleaves handshakes
// from distinct peers on one Endpoint.
func (e *Endpoint) lastHandshaking() *session.Session {
	var best *session.Session
	var bestID uint32
	for id, s := range e.sessions {
		if s.State == session.Handshaking && (best == nil || id > bestID) {
			best, bestID = s, id
		}
	}
	return best
}

// dispatchSecured opens a secured record, decodes its plaintext as a plain
// SPDM message, handles KEY_UPDATE/END_SESSION/HEARTBEAT, and reseals the
// response under the same session, per §4.6/§4.8.
func (e *Endpoint) dispatchSecured(reqBytes []byte) ([]byte, error) {
	if len(reqBytes) < 4 {
		return nil, protocol.NewError(protocol.ErrorKindInvalidRequest, "secured record too short for session id")
	}
	sessionID := binary.LittleEndian.Uint32(reqBytes[:4])
	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, protocol.NewError(protocol.ErrorKindInvalidRequest, "unknown session id")
	}
	if e.cfg.MaxSPDMMsgSize > 0 && len(reqBytes) > e.cfg.MaxSPDMMsgSize {
		return nil, protocol.NewError(protocol.ErrorKindInvalidRequest, "secured record exceeds max_spdm_msg_size")
	}

	plaintext, err := s.RecvSecured(reqBytes)
	if err != nil {
		slog.Warn("spdm: secured record failed to decrypt", "session_id", sessionID, "err", err)
		return nil, protocol.WrapError(protocol.ErrorKindDecryptError, "secured record open failed", err)
	}

	_, msg, derr := e.codec.Decode(plaintext)
	if derr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInvalidRequest, "decode secured payload", derr)
	}

	var rspPlain []byte
	switch msg.(type) {
	case protocol.KeyUpdate:
		rsp, perr := s.HandleKeyUpdate(plaintext)
		if perr != nil {
			return nil, perr
		}
		rspPlain = rsp
	case protocol.EndSession:
		rsp, perr := s.HandleEndSession(plaintext)
		if perr != nil {
			return nil, perr
		}
		rspPlain = rsp
		defer e.dropSession(sessionID)
	case protocol.Heartbeat:
		rspPlain = e.codec.Encode(e.conn.Version, protocol.HeartbeatAck{})
	default:
		return nil, protocol.NewError(protocol.ErrorKindUnexpectedRequest, "unexpected secured request code")
	}

	return s.SendSecured(rspPlain)
}
