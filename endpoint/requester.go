package endpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/session"
	"github.com/dmtf-spdm/go-spdm/transport"
)

// sendRecv writes req on ch and returns the next frame it reads back, the
// request/response rhythm every Requester-side exchange follows.
func sendRecv(ctx context.Context, ch transport.Channel, req []byte) ([]byte, error) {
	if err := ch.Send(ctx, req); err != nil {
		return nil, fmt.Errorf("endpoint: send: %w", err)
	}
	rsp, err := ch.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("endpoint: receive: %w", err)
	}
	return rsp, nil
}

// Connect drives the full version/capability/algorithm negotiation and
// authentication sequence (GET_VERSION through GET_MEASUREMENTS) over ch, as
// the Requester. On success the Connection held by e is left Authenticated
// (or further, AfterMeasurements) and ready for StartSession.
func (e *Endpoint) Connect(ctx context.Context, ch transport.Channel, slotID uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Role != connection.RoleRequester {
		return fmt.Errorf("endpoint: Connect only valid for a Requester endpoint")
	}

	req, err := e.conn.BuildGetVersion()
	if err != nil {
		return err
	}
	rsp, err := sendRecv(ctx, ch, req)
	if err != nil {
		return err
	}
	if perr := e.conn.OnVersion(rsp); perr != nil {
		return perr
	}

	req = e.conn.BuildGetCapabilities()
	if rsp, err = sendRecv(ctx, ch, req); err != nil {
		return err
	}
	if perr := e.conn.OnCapabilities(rsp); perr != nil {
		return perr
	}

	req = e.conn.BuildNegotiateAlgorithms()
	if rsp, err = sendRecv(ctx, ch, req); err != nil {
		return err
	}
	if perr := e.conn.OnAlgorithms(rsp); perr != nil {
		return perr
	}
	slog.Debug("spdm: algorithms negotiated", "hash", e.conn.Suite.BaseHash, "asym", e.conn.Suite.BaseAsym, "dhe", e.conn.Suite.DHEGroup, "aead", e.conn.Suite.AEADCipher)

	req = e.conn.BuildGetDigests()
	if rsp, err = sendRecv(ctx, ch, req); err != nil {
		return err
	}
	if perr := e.conn.OnDigests(rsp); perr != nil {
		return perr
	}

	var offset, length uint16
	for {
		req = e.conn.BuildGetCertificate(slotID, offset, length)
		if rsp, err = sendRecv(ctx, ch, req); err != nil {
			return err
		}
		remaining, perr := e.conn.OnCertificate(rsp)
		if perr != nil {
			return perr
		}
		if remaining == 0 {
			break
		}
		offset += length
		length = remaining
	}

	req, err = e.conn.BuildChallenge(slotID, 0)
	if err != nil {
		return err
	}
	if rsp, err = sendRecv(ctx, ch, req); err != nil {
		return err
	}
	if perr := e.conn.OnChallengeAuth(rsp); perr != nil {
		return perr
	}
	slog.Debug("spdm: peer authenticated")

	req, err = e.conn.BuildGetMeasurements(false, 0xFF, slotID)
	if err != nil {
		return err
	}
	if rsp, err = sendRecv(ctx, ch, req); err != nil {
		return err
	}
	if _, perr := e.conn.OnMeasurements(rsp); perr != nil {
		return perr
	}
	return nil
}

// SessionOptions parametrizes StartSession: either Requester-slot mutual-auth
// KEY_EXCHANGE, or PSK_EXCHANGE when PSK/PSKHint are set.
type SessionOptions struct {
	LocalSlotID       uint8
	RequestMutualAuth bool
	PSK               cryptoprovider.Secret
	PSKHint           []byte
}

// StartSession drives KEY_EXCHANGE/FINISH (or, when opts.PSK is set,
// PSK_EXCHANGE/PSK_FINISH) over ch as the Requester, registers the resulting
// Session under the session_id the Responder allocated, and returns that id.
func (e *Endpoint) StartSession(ctx context.Context, ch transport.Channel, opts SessionOptions) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Role != connection.RoleRequester {
		return 0, fmt.Errorf("endpoint: StartSession only valid for a Requester endpoint")
	}

	var peerLeafKey any
	if chain := e.conn.PeerCertChain(); len(chain) > 0 {
		key, err := e.cfg.Crypto.ParseLeaf(chain)
		if err != nil {
			return 0, fmt.Errorf("endpoint: parse peer leaf key: %w", err)
		}
		peerLeafKey = key
	}

	cfg := session.Config{
		Role:              connection.RoleRequester,
		Crypto:            e.cfg.Crypto,
		Version:           e.conn.Version,
		Suite:             e.conn.Suite,
		SeqLen:            e.cfg.SeqLen,
		LocalCapabilities: e.cfg.LocalCapabilities,
		PeerCapabilities:  e.cfg.LocalCapabilities,
		TranscriptSeed:    e.conn.SessionTranscriptSeed(),
		LocalSlotID:       opts.LocalSlotID,
		LocalSigningKey:   e.signingKeyFor(opts.LocalSlotID),
		PeerLeafKey:       peerLeafKey,
		RequestMutualAuth: opts.RequestMutualAuth,
		PSK:               opts.PSK,
	}
	s, err := session.New(cfg)
	if err != nil {
		return 0, err
	}

	if opts.PSK != nil {
		req, berr := s.BuildPSKExchange(0, opts.PSKHint)
		if berr != nil {
			return 0, berr
		}
		rsp, serr := sendRecv(ctx, ch, req)
		if serr != nil {
			return 0, serr
		}
		if perr := s.OnPSKExchangeRsp(rsp); perr != nil {
			return 0, perr
		}
		req, berr = s.BuildPSKFinish()
		if berr != nil {
			return 0, berr
		}
		if rsp, serr = sendRecv(ctx, ch, req); serr != nil {
			return 0, serr
		}
		if perr := s.OnPSKFinishRsp(rsp); perr != nil {
			return 0, perr
		}
	} else {
		req, berr := s.BuildKeyExchange(0)
		if berr != nil {
			return 0, berr
		}
		rsp, serr := sendRecv(ctx, ch, req)
		if serr != nil {
			return 0, serr
		}
		if perr := s.OnKeyExchangeRsp(rsp); perr != nil {
			return 0, perr
		}
		req, berr = s.BuildFinish()
		if berr != nil {
			return 0, berr
		}
		if rsp, serr = sendRecv(ctx, ch, req); serr != nil {
			return 0, serr
		}
		if perr := s.OnFinishRsp(rsp); perr != nil {
			return 0, perr
		}
	}

	e.sessions[s.SessionID] = s
	slog.Debug("spdm: session established", "session_id", s.SessionID)
	return s.SessionID, nil
}

// SendSecured seals payload under sessionID's send key and transmits it,
// returning the decrypted response payload.
func (e *Endpoint) SendSecured(ctx context.Context, ch transport.Channel, sessionID uint32, payload []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("endpoint: unknown session %d", sessionID)
	}
	wire, err := s.SendSecured(payload)
	if err != nil {
		return nil, err
	}
	rspWire, err := sendRecv(ctx, ch, wire)
	if err != nil {
		return nil, err
	}
	return s.RecvSecured(rspWire)
}

// KeyUpdate drives one KEY_UPDATE op to completion over ch: it issues the
// KEY_UPDATE, waits for KEY_UPDATE_ACK, and for UPDATE_KEY/UPDATE_ALL_KEYS
// follows up with UPDATE_VERIFY_NEW_KEY once the rotated key is confirmed
// live, retiring the superseded key on both sides.
func (e *Endpoint) KeyUpdate(ctx context.Context, ch transport.Channel, sessionID uint32, op protocol.KeyUpdateOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return fmt.Errorf("endpoint: unknown session %d", sessionID)
	}
	if err := e.driveKeyUpdate(ctx, ch, s, op); err != nil {
		return err
	}
	if op == protocol.KeyUpdateOperationUpdateKey || op == protocol.KeyUpdateOperationUpdateAll {
		return e.driveKeyUpdate(ctx, ch, s, protocol.KeyUpdateOperationVerifyNewKey)
	}
	return nil
}

func (e *Endpoint) driveKeyUpdate(ctx context.Context, ch transport.Channel, s *session.Session, op protocol.KeyUpdateOp) error {
	reqPlain, token, err := s.BuildKeyUpdate(op)
	if err != nil {
		return err
	}
	wire, err := s.SendSecured(reqPlain)
	if err != nil {
		return err
	}
	rspWire, err := sendRecv(ctx, ch, wire)
	if err != nil {
		return err
	}
	ackPlain, err := s.RecvSecured(rspWire)
	if err != nil {
		return err
	}
	if perr := s.OnKeyUpdateAck(ackPlain, op, token); perr != nil {
		return perr
	}
	return nil
}

// EndSession drives an orderly END_SESSION/END_SESSION_ACK exchange over ch
// and removes the session from the Endpoint, zeroizing its key material.
func (e *Endpoint) EndSession(ctx context.Context, ch transport.Channel, sessionID uint32, preserveNegotiatedState bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return fmt.Errorf("endpoint: unknown session %d", sessionID)
	}
	reqPlain := s.BuildEndSession(preserveNegotiatedState)
	wire, err := s.SendSecured(reqPlain)
	if err != nil {
		return err
	}
	rspWire, err := sendRecv(ctx, ch, wire)
	if err != nil {
		return err
	}
	ackPlain, err := s.RecvSecured(rspWire)
	if err != nil {
		return err
	}
	if perr := s.OnEndSessionAck(ackPlain); perr != nil {
		return perr
	}
	delete(e.sessions, sessionID)
	return nil
}
