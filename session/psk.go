package session

import (
	"crypto/hmac"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/transcript"
)

// PSK_EXCHANGE/PSK_FINISH mirror KEY_EXCHANGE/FINISH's TH1/TH2 structure
// without a DH exchange or signatures: the PSK itself stands in for the DH
// shared secret at HKDF-Extract, and proof of possession comes entirely
// from the finished-key HMACs (§4.8).

// BuildPSKExchange issues PSK_EXCHANGE identifying the PSK by hint.
func (s *Session) BuildPSKExchange(measurementSummaryHashType uint8, pskHint []byte) ([]byte, error) {
	if s.cfg.Role != connection.RoleRequester {
		return nil, errRole("BuildPSKExchange", connection.RoleRequester)
	}
	ctx, err := s.cfg.Crypto.Random(32)
	if err != nil {
		return nil, err
	}
	req := protocol.PSKExchange{MeasurementSummaryHashType: measurementSummaryHashType, PSKHint: pskHint, Context: ctx}
	reqBytes := s.encode(req)
	s.th.Append(transcript.ScopeTH, reqBytes)
	s.State = Handshaking
	return reqBytes, nil
}

// OnPSKExchangeRsp validates ResponderVerifyData and derives the handshake
// secrets using the configured PSK as HKDF-Extract's IKM.
func (s *Session) OnPSKExchangeRsp(rspBytes []byte) *protocol.Error {
	msg, perr := s.decodeExpect(rspBytes, protocol.CodePSKExchangeRsp)
	if perr != nil {
		return perr
	}
	per := msg.(protocol.PSKExchangeRsp)
	s.SessionID = per.SessionID

	partial := per
	partial.ResponderVerifyData = nil
	partialBytes := s.encode(partial)
	s.th.Append(transcript.ScopeTH, partialBytes)
	th1 := s.th.Snapshot(transcript.ScopeTH)

	if err := s.schedule.DeriveHandshakeSecrets(s.cfg.PSK, th1); err != nil {
		return protocol.WrapError(protocol.ErrorKindInternalError, "derive handshake secrets", err)
	}
	if !s.handshakeInTheClear() {
		tag, herr := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.ResponseFinishedKey, th1)
		if herr != nil {
			return protocol.WrapError(protocol.ErrorKindInternalError, "ResponderVerifyData HMAC", herr)
		}
		if !hmac.Equal(tag, per.ResponderVerifyData) {
			return s.errorf(protocol.ErrorKindSecurityViolation, "PSK_EXCHANGE_RSP ResponderVerifyData mismatch")
		}
	}
	if len(rspBytes) >= len(partialBytes) {
		s.th.Append(transcript.ScopeTH, rspBytes[len(partialBytes):])
	}
	return nil
}

// HandlePSKExchange is the Responder half of PSK_EXCHANGE.
func (s *Session) HandlePSKExchange(reqBytes []byte) ([]byte, *protocol.Error) {
	if s.cfg.Role != connection.RoleResponder {
		return nil, s.errorf(protocol.ErrorKindInternalError, "%s", errRole("HandlePSKExchange", connection.RoleResponder))
	}
	if _, perr := s.decodeExpect(reqBytes, protocol.CodePSKExchange); perr != nil {
		return nil, perr
	}
	s.th.Append(transcript.ScopeTH, reqBytes)

	ctx, rerr := s.cfg.Crypto.Random(32)
	if rerr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "context generation", rerr)
	}

	partial := protocol.PSKExchangeRsp{SessionID: s.SessionID, Context: ctx}
	partialBytes := s.encode(partial)
	s.th.Append(transcript.ScopeTH, partialBytes)
	th1 := s.th.Snapshot(transcript.ScopeTH)

	if err := s.schedule.DeriveHandshakeSecrets(s.cfg.PSK, th1); err != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "derive handshake secrets", err)
	}

	rsp := partial
	if !s.handshakeInTheClear() {
		tag, herr := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.ResponseFinishedKey, th1)
		if herr != nil {
			return nil, protocol.WrapError(protocol.ErrorKindInternalError, "ResponderVerifyData HMAC", herr)
		}
		rsp.ResponderVerifyData = tag
	}
	rspBytes := s.encode(rsp)
	if len(rspBytes) >= len(partialBytes) {
		s.th.Append(transcript.ScopeTH, rspBytes[len(partialBytes):])
	}
	s.State = Handshaking
	return rspBytes, nil
}

// BuildPSKFinish sends RequesterVerifyData over the transcript through
// PSK_EXCHANGE_RSP.
func (s *Session) BuildPSKFinish() ([]byte, error) {
	th := s.th.Snapshot(transcript.ScopeTH)
	tag, err := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.RequestFinishedKey, th)
	if err != nil {
		return nil, err
	}
	req := protocol.PSKFinish{VerifyData: tag}
	reqBytes := s.encode(req)
	s.th.Append(transcript.ScopeTH, reqBytes)
	return reqBytes, nil
}

// OnPSKFinishRsp consumes the empty PSK_FINISH_RSP acknowledgement and
// derives the data-phase secrets.
func (s *Session) OnPSKFinishRsp(rspBytes []byte) *protocol.Error {
	if _, perr := s.decodeExpect(rspBytes, protocol.CodePSKFinishRsp); perr != nil {
		return perr
	}
	s.th.Append(transcript.ScopeTH, rspBytes)
	th2 := s.th.Snapshot(transcript.ScopeTH)
	return s.finishEstablish(th2)
}

// HandlePSKFinish verifies RequesterVerifyData and returns PSK_FINISH_RSP.
func (s *Session) HandlePSKFinish(reqBytes []byte) ([]byte, *protocol.Error) {
	msg, perr := s.decodeExpect(reqBytes, protocol.CodePSKFinish)
	if perr != nil {
		return nil, perr
	}
	pf := msg.(protocol.PSKFinish)

	th1 := s.th.Snapshot(transcript.ScopeTH)

	tag, herr := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.RequestFinishedKey, th1)
	if herr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "RequesterVerifyData HMAC", herr)
	}
	if !hmac.Equal(tag, pf.VerifyData) {
		return nil, s.errorf(protocol.ErrorKindSecurityViolation, "PSK_FINISH RequesterVerifyData mismatch")
	}
	s.th.Append(transcript.ScopeTH, reqBytes)

	rsp := protocol.PSKFinishRsp{}
	rspBytes := s.encode(rsp)
	s.th.Append(transcript.ScopeTH, rspBytes)
	th2 := s.th.Snapshot(transcript.ScopeTH)

	if err := s.finishEstablish(th2); err != nil {
		return nil, err
	}
	return rspBytes, nil
}
