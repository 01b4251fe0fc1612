package session

import "github.com/dmtf-spdm/go-spdm/protocol"

// SendSecured frames and seals an application payload under this session's
// send-direction key, for transmission as a DSP0277 secured record.
func (s *Session) SendSecured(payload []byte) ([]byte, error) {
	if !s.secured() {
		return nil, s.errorf(protocol.ErrorKindUnexpectedRequest, "SendSecured requires an established session, have %s", s.State)
	}
	return s.sendStream.Seal(payload)
}

// RecvSecured opens a received secured record and returns its application
// payload.
func (s *Session) RecvSecured(wire []byte) ([]byte, error) {
	if !s.secured() {
		return nil, s.errorf(protocol.ErrorKindUnexpectedRequest, "RecvSecured requires an established session, have %s", s.State)
	}
	plaintext, err := s.recvStream.Open(wire)
	if err != nil {
		s.Terminate()
		return nil, err
	}
	return plaintext, nil
}

// secured reports whether the session's traffic keys are live; Terminating
// still accepts secured records since END_SESSION/END_SESSION_ACK travel
// under them right up until Terminate zeroizes the keys.
func (s *Session) secured() bool {
	return s.State == Established || s.State == Terminating
}

// BuildEndSession issues END_SESSION, the first message of an orderly
// teardown; it is still protected under the current secured-record keys.
func (s *Session) BuildEndSession(preserveNegotiatedState bool) []byte {
	s.State = Terminating
	return s.encode(protocol.EndSession{PreserveNegotiatedState: preserveNegotiatedState})
}

// OnEndSessionAck consumes END_SESSION_ACK and zeroizes all session
// material; the session_id is no longer valid for any further record.
func (s *Session) OnEndSessionAck(ackBytes []byte) *protocol.Error {
	if _, perr := s.decodeExpect(ackBytes, protocol.CodeEndSessionAck); perr != nil {
		return perr
	}
	s.Terminate()
	return nil
}

// HandleEndSession is the Responder half: it replies END_SESSION_ACK and
// moves to Terminating. The keys stay live so the ACK can still be sealed;
// the caller zeroizes session material with Terminate once the ACK is sent.
func (s *Session) HandleEndSession(reqBytes []byte) ([]byte, *protocol.Error) {
	if _, perr := s.decodeExpect(reqBytes, protocol.CodeEndSession); perr != nil {
		return nil, perr
	}
	rspBytes := s.encode(protocol.EndSessionAck{})
	s.State = Terminating
	return rspBytes, nil
}

// Terminate zeroizes every secret and AEAD key this session holds. Safe to
// call more than once.
func (s *Session) Terminate() {
	s.State = Terminating
	s.schedule.ZeroAll()
	if s.sendStream != nil {
		s.sendStream.Zero()
	}
	if s.recvStream != nil {
		s.recvStream.Zero()
	}
}
