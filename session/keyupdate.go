package session

import (
	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/record"
)

// KEY_UPDATE is a two-phase, RFC-5246-style rekey: the new key is installed
// as "pending" before either side is known to be using it, and Open's
// crossover retry (record.Stream) absorbs the window where the peer has
// switched but the local side hasn't observed it yet.
//
// Resolved direction semantics (the source's UPDATE_ALL_KEYS handling is
// ambiguous between rotating the sender's own direction vs. the peer's; see
// DSP0274 §10.11.1, not the buggy C reference): only the Requester may send
// KEY_UPDATE(UPDATE_ALL_KEYS). It rotates the Requester's own send
// direction exactly like UPDATE_KEY, and additionally rotates the
// Responder's send (response) direction immediately — the Responder does
// not wait for its own separate UPDATE_KEY to do so.

// BuildKeyUpdate issues a KEY_UPDATE(op) with a fresh anti-replay token,
// rotating the local schedule's data secret(s) and installing the new AEAD
// keys as pending. Only the Requester may call this (only the Requester is
// authorized to issue UPDATE_ALL_KEYS, and this module always drives
// KEY_UPDATE from the Requester side).
func (s *Session) BuildKeyUpdate(op protocol.KeyUpdateOp) ([]byte, uint8, error) {
	if s.cfg.Role != connection.RoleRequester {
		return nil, 0, errRole("BuildKeyUpdate", connection.RoleRequester)
	}
	tokenBuf, err := s.cfg.Crypto.Random(1)
	if err != nil {
		return nil, 0, err
	}
	token := tokenBuf[0]

	if op == protocol.KeyUpdateOperationUpdateKey || op == protocol.KeyUpdateOperationUpdateAll {
		if err := s.rotateDirection(&s.schedule.RequestDataSecret, s.sendStream); err != nil {
			return nil, 0, err
		}
		if op == protocol.KeyUpdateOperationUpdateAll {
			if err := s.rotateDirection(&s.schedule.ResponseDataSecret, s.recvStream); err != nil {
				return nil, 0, err
			}
		}
	}

	reqBytes := s.encode(protocol.KeyUpdate{Operation: op, Token: token})
	return reqBytes, token, nil
}

// OnKeyUpdateAck consumes KEY_UPDATE_ACK, verifying it echoes op/token, and
// commits the rotation: the sender's own stream switches to its new key
// immediately (it originated the rotation), and for UPDATE_ALL_KEYS the
// Requester also switches its receive stream immediately, matching the
// Responder's immediate response-direction rotation.
func (s *Session) OnKeyUpdateAck(ackBytes []byte, op protocol.KeyUpdateOp, token uint8) *protocol.Error {
	msg, perr := s.decodeExpect(ackBytes, protocol.CodeKeyUpdateAck)
	if perr != nil {
		return perr
	}
	ack := msg.(protocol.KeyUpdateAck)
	if ack.Operation != op || ack.Token != token {
		return s.errorf(protocol.ErrorKindUnexpectedRequest, "KEY_UPDATE_ACK mismatch: got op=%d token=%d, want op=%d token=%d", ack.Operation, ack.Token, op, token)
	}

	switch op {
	case protocol.KeyUpdateOperationUpdateKey:
		s.sendStream.PromoteOnSend()
	case protocol.KeyUpdateOperationUpdateAll:
		s.sendStream.PromoteOnSend()
		s.recvStream.PromoteOnSend()
	case protocol.KeyUpdateOperationVerifyNewKey:
		s.sendStream.RetirePending()
		s.recvStream.RetirePending()
	}
	return nil
}

// HandleKeyUpdate is the Responder half: it installs the rotated key(s) as
// pending (for UPDATE_ALL_KEYS, also committing its own send direction
// immediately per the resolved semantics above) and returns KEY_UPDATE_ACK
// echoing the request's operation and token.
func (s *Session) HandleKeyUpdate(reqBytes []byte) ([]byte, *protocol.Error) {
	if s.cfg.Role != connection.RoleResponder {
		return nil, s.errorf(protocol.ErrorKindInternalError, "%s", errRole("HandleKeyUpdate", connection.RoleResponder))
	}
	msg, perr := s.decodeExpect(reqBytes, protocol.CodeKeyUpdate)
	if perr != nil {
		return nil, perr
	}
	ku := msg.(protocol.KeyUpdate)

	switch ku.Operation {
	case protocol.KeyUpdateOperationUpdateKey, protocol.KeyUpdateOperationUpdateAll:
		if err := s.rotateDirection(&s.schedule.RequestDataSecret, s.recvStream); err != nil {
			return nil, protocol.WrapError(protocol.ErrorKindInternalError, "rotate request-direction secret", err)
		}
		if ku.Operation == protocol.KeyUpdateOperationUpdateAll {
			if err := s.rotateDirection(&s.schedule.ResponseDataSecret, s.sendStream); err != nil {
				return nil, protocol.WrapError(protocol.ErrorKindInternalError, "rotate response-direction secret", err)
			}
			s.sendStream.PromoteOnSend()
		}
	case protocol.KeyUpdateOperationVerifyNewKey:
		s.sendStream.RetirePending()
		s.recvStream.RetirePending()
	default:
		return nil, s.errorf(protocol.ErrorKindInvalidRequest, "unknown KEY_UPDATE operation %d", ku.Operation)
	}

	rsp := protocol.KeyUpdateAck{Operation: ku.Operation, Token: ku.Token}
	return s.encode(rsp), nil
}

// rotateDirection advances *secret via HKDF-Expand("key update", ...),
// re-derives that direction's AEAD keys, and installs them as pending on
// stream.
func (s *Session) rotateDirection(secret *cryptoprovider.Secret, stream *record.Stream) error {
	next, err := s.schedule.NextSecret(*secret)
	if err != nil {
		return err
	}
	(*secret).Zero()
	*secret = next
	keys, err := s.schedule.DeriveTrafficKeys(*secret, s.cfg.Suite.AEADCipher)
	if err != nil {
		return err
	}
	stream.InstallPending(record.Keys(keys))
	return nil
}
