package session

import (
	"crypto/hmac"
	"fmt"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/keyschedule"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/record"
	"github.com/dmtf-spdm/go-spdm/transcript"
)

// Config parametrizes a new Session. The endpoint layer populates it from
// the Connection that just finished authentication: TranscriptSeed is
// Connection.SessionTranscriptSeed(), Suite is Connection.Suite.
type Config struct {
	Role              connection.Role
	Crypto            cryptoprovider.Provider
	Version           protocol.Version
	Suite             protocol.AlgorithmSuite
	SeqLen            int
	LocalCapabilities protocol.CapabilityFlags
	PeerCapabilities  protocol.CapabilityFlags
	TranscriptSeed    [][]byte

	// SessionID must be set by the Responder before constructing its side
	// of a session (it is the party that allocates the id); a Requester
	// leaves it zero and adopts the value carried in KEY_EXCHANGE_RSP.
	SessionID uint32

	LocalSlotID       uint8
	LocalSigningKey   any // unused for PSK sessions
	PeerLeafKey       any // unused for PSK sessions
	RequestMutualAuth bool // Responder policy: ask the Requester to also sign FINISH

	PSK cryptoprovider.Secret // non-nil selects PSK_EXCHANGE instead of KEY_EXCHANGE
}

// Session is one SPDM session's handshake and secured-record state, per
// §4.8. A Session is constructed after Connection authentication completes
// and owns its own TH transcript scope, independent of the Connection's
// VCA/M1M2/L1L2 scopes.
type Session struct {
	cfg   Config
	codec protocol.Codec

	SessionID uint32
	State     State

	th       *transcript.Manager
	schedule *keyschedule.Schedule

	mutualAuthRequested bool
	dhPrivate           any

	sendStream *record.Stream
	recvStream *record.Stream
}

// New constructs a Session and seeds its TH transcript with the VCA+cert
// bytes from the authenticated Connection.
func New(cfg Config) (*Session, error) {
	m, err := transcript.New(cfg.Crypto, cfg.Suite.BaseHash)
	if err != nil {
		return nil, err
	}
	m.SeedBytes(transcript.ScopeTH, cfg.TranscriptSeed...)
	return &Session{
		cfg:       cfg,
		SessionID: cfg.SessionID,
		State:     NotStarted,
		th:        m,
		schedule:  keyschedule.New(cfg.Crypto, cfg.Suite.BaseHash),
	}, nil
}

func (s *Session) encode(msg protocol.Message) []byte {
	return s.codec.Encode(s.cfg.Version, msg)
}

func (s *Session) errorf(kind protocol.ErrorKind, format string, args ...any) *protocol.Error {
	return protocol.NewError(kind, fmt.Sprintf(format, args...))
}

func (s *Session) handshakeInTheClear() bool {
	return s.cfg.LocalCapabilities.Has(protocol.CapHandshakeInClearCap) &&
		s.cfg.PeerCapabilities.Has(protocol.CapHandshakeInClearCap)
}

// --- KEY_EXCHANGE (Requester) ---

// BuildKeyExchange issues KEY_EXCHANGE with a fresh ephemeral DH key pair,
// retaining the private half for OnKeyExchangeRsp.
func (s *Session) BuildKeyExchange(measurementSummaryHashType uint8) ([]byte, error) {
	if s.cfg.Role != connection.RoleRequester {
		return nil, errRole("BuildKeyExchange", connection.RoleRequester)
	}
	pub, priv, err := s.cfg.Crypto.GenerateKeyPair(s.cfg.Suite.DHEGroup)
	if err != nil {
		return nil, err
	}
	s.dhPrivate = priv
	nonce, err := s.cfg.Crypto.Random(32)
	if err != nil {
		return nil, err
	}
	var nonceArr [32]byte
	copy(nonceArr[:], nonce)

	req := protocol.KeyExchange{
		MeasurementSummaryHashType: measurementSummaryHashType,
		SlotID:                     s.cfg.LocalSlotID,
		RandomNonce:                nonceArr,
		ExchangeData:               pub,
	}
	reqBytes := s.encode(req)
	s.th.Append(transcript.ScopeTH, reqBytes)
	s.State = Handshaking
	return reqBytes, nil
}

// OnKeyExchangeRsp verifies the Responder's TH1 signature and, unless
// handshake-in-the-clear is negotiated, its ResponderVerifyData HMAC, then
// derives the handshake secrets.
func (s *Session) OnKeyExchangeRsp(rspBytes []byte) *protocol.Error {
	msg, perr := s.decodeExpect(rspBytes, protocol.CodeKeyExchangeRsp)
	if perr != nil {
		return perr
	}
	ker := msg.(protocol.KeyExchangeRsp)
	s.SessionID = ker.SessionID
	s.mutualAuthRequested = ker.MutualAuthRequested

	secret, derr := s.cfg.Crypto.ComputeSecret(s.cfg.Suite.DHEGroup, s.dhPrivate, ker.ExchangeData)
	if derr != nil {
		return protocol.WrapError(protocol.ErrorKindInternalError, "DH compute secret", derr)
	}
	defer secret.Zero()

	partial := ker
	partial.Signature = nil
	partial.ResponderVerifyData = nil
	partialBytes := s.encode(partial)
	s.th.Append(transcript.ScopeTH, partialBytes)
	th1 := s.th.Snapshot(transcript.ScopeTH)

	if err := s.cfg.Crypto.Verify(s.cfg.Suite.BaseAsym, s.cfg.PeerLeafKey, th1, ker.Signature); err != nil {
		return protocol.WrapError(protocol.ErrorKindSecurityViolation, "KEY_EXCHANGE_RSP signature", err)
	}
	if err := s.schedule.DeriveHandshakeSecrets(secret, th1); err != nil {
		return protocol.WrapError(protocol.ErrorKindInternalError, "derive handshake secrets", err)
	}
	if !s.handshakeInTheClear() {
		tag, herr := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.ResponseFinishedKey, th1)
		if herr != nil {
			return protocol.WrapError(protocol.ErrorKindInternalError, "ResponderVerifyData HMAC", herr)
		}
		if !hmac.Equal(tag, ker.ResponderVerifyData) {
			return s.errorf(protocol.ErrorKindSecurityViolation, "ResponderVerifyData mismatch")
		}
	}

	if len(rspBytes) >= len(partialBytes) {
		s.th.Append(transcript.ScopeTH, rspBytes[len(partialBytes):])
	}
	return nil
}

// --- KEY_EXCHANGE (Responder) ---

// HandleKeyExchange performs the Responder half of KEY_EXCHANGE: it
// completes the DH exchange, snapshots TH1, signs it, and (unless
// handshake-in-the-clear is negotiated) attaches ResponderVerifyData.
func (s *Session) HandleKeyExchange(reqBytes []byte) ([]byte, *protocol.Error) {
	if s.cfg.Role != connection.RoleResponder {
		return nil, s.errorf(protocol.ErrorKindInternalError, "%s", errRole("HandleKeyExchange", connection.RoleResponder))
	}
	msg, perr := s.decodeExpect(reqBytes, protocol.CodeKeyExchange)
	if perr != nil {
		return nil, perr
	}
	ke := msg.(protocol.KeyExchange)
	s.th.Append(transcript.ScopeTH, reqBytes)

	pub, priv, err := s.cfg.Crypto.GenerateKeyPair(s.cfg.Suite.DHEGroup)
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "DH key pair", err)
	}
	secret, err := s.cfg.Crypto.ComputeSecret(s.cfg.Suite.DHEGroup, priv, ke.ExchangeData)
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "DH compute secret", err)
	}
	defer secret.Zero()

	nonce, rerr := s.cfg.Crypto.Random(32)
	if rerr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "nonce generation", rerr)
	}
	var respNonce [32]byte
	copy(respNonce[:], nonce)

	partial := protocol.KeyExchangeRsp{
		SessionID:           s.SessionID,
		MutualAuthRequested: s.cfg.RequestMutualAuth,
		SlotID:              s.cfg.LocalSlotID,
		RandomNonce:         respNonce,
		ExchangeData:        pub,
	}
	s.mutualAuthRequested = s.cfg.RequestMutualAuth
	partialBytes := s.encode(partial)
	s.th.Append(transcript.ScopeTH, partialBytes)
	th1 := s.th.Snapshot(transcript.ScopeTH)

	if err := s.schedule.DeriveHandshakeSecrets(secret, th1); err != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "derive handshake secrets", err)
	}

	sig, serr := s.cfg.Crypto.Sign(s.cfg.Suite.BaseAsym, s.cfg.LocalSigningKey, th1)
	if serr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "KEY_EXCHANGE_RSP signature", serr)
	}
	rsp := partial
	rsp.Signature = sig
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

// --- FINISH (Requester) ---

// BuildFinish computes RequesterVerifyData (and, when mutual auth was
// requested, a signature) over the transcript through KEY_EXCHANGE_RSP.
func (s *Session) BuildFinish() ([]byte, error) {
	th := s.th.Snapshot(transcript.ScopeTH)
	tag, err := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.RequestFinishedKey, th)
	if err != nil {
		return nil, err
	}
	req := protocol.Finish{SlotID: s.cfg.LocalSlotID, VerifyData: tag}
	if s.mutualAuthRequested {
		sig, serr := s.cfg.Crypto.Sign(s.cfg.Suite.BaseAsym, s.cfg.LocalSigningKey, th)
		if serr != nil {
			return nil, serr
		}
		req.HasSig = true
		req.Signature = sig
	}
	reqBytes := s.encode(req)
	s.th.Append(transcript.ScopeTH, reqBytes)
	return reqBytes, nil
}

// OnFinishRsp verifies ResponderVerifyData (when present) and derives the
// data-phase secrets and traffic keys, completing the handshake.
func (s *Session) OnFinishRsp(rspBytes []byte) *protocol.Error {
	msg, perr := s.decodeExpect(rspBytes, protocol.CodeFinishRsp)
	if perr != nil {
		return perr
	}
	fr := msg.(protocol.FinishRsp)

	partial := protocol.FinishRsp{}
	partialBytes := s.encode(partial)
	th2 := s.th.Snapshot(transcript.ScopeTH)

	if !s.handshakeInTheClear() {
		tag, herr := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.ResponseFinishedKey, th2)
		if herr != nil {
			return protocol.WrapError(protocol.ErrorKindInternalError, "FINISH_RSP verify data", herr)
		}
		if !hmac.Equal(tag, fr.ResponderVerifyData) {
			return s.errorf(protocol.ErrorKindSecurityViolation, "FINISH_RSP ResponderVerifyData mismatch")
		}
	}
	if len(rspBytes) >= len(partialBytes) {
		s.th.Append(transcript.ScopeTH, rspBytes[len(partialBytes):])
	}

	return s.finishEstablish(th2)
}

// --- FINISH (Responder) ---

// HandleFinish verifies RequesterVerifyData (and signature, for mutual
// auth), snapshots TH2, derives data-phase secrets, and returns FINISH_RSP.
func (s *Session) HandleFinish(reqBytes []byte, peerLeafKey any) ([]byte, *protocol.Error) {
	msg, perr := s.decodeExpect(reqBytes, protocol.CodeFinish)
	if perr != nil {
		return nil, perr
	}
	fm := msg.(protocol.Finish)

	th1 := s.th.Snapshot(transcript.ScopeTH)

	if s.mutualAuthRequested && !fm.HasSig {
		return nil, s.errorf(protocol.ErrorKindSecurityViolation, "FINISH missing required mutual-auth signature")
	}
	if fm.HasSig {
		if err := s.cfg.Crypto.Verify(s.cfg.Suite.BaseAsym, peerLeafKey, th1, fm.Signature); err != nil {
			return nil, protocol.WrapError(protocol.ErrorKindSecurityViolation, "FINISH signature", err)
		}
	}
	tag, herr := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.RequestFinishedKey, th1)
	if herr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "RequesterVerifyData HMAC", herr)
	}
	if !hmac.Equal(tag, fm.VerifyData) {
		return nil, s.errorf(protocol.ErrorKindSecurityViolation, "FINISH RequesterVerifyData mismatch")
	}
	s.th.Append(transcript.ScopeTH, reqBytes)

	partialRsp := protocol.FinishRsp{}
	partialRspBytes := s.encode(partialRsp)
	th2 := s.th.Snapshot(transcript.ScopeTH)

	rsp := protocol.FinishRsp{}
	if !s.handshakeInTheClear() {
		rspTag, herr2 := s.cfg.Crypto.HMAC(s.cfg.Suite.BaseHash, s.schedule.ResponseFinishedKey, th2)
		if herr2 != nil {
			return nil, protocol.WrapError(protocol.ErrorKindInternalError, "FINISH_RSP verify data", herr2)
		}
		rsp.ResponderVerifyData = rspTag
	}
	rspBytes := s.encode(rsp)
	if len(rspBytes) >= len(partialRspBytes) {
		s.th.Append(transcript.ScopeTH, rspBytes[len(partialRspBytes):])
	}

	if err := s.finishEstablish(th2); err != nil {
		return nil, err
	}
	return rspBytes, nil
}

// finishEstablish derives the master/data secrets and traffic keys from
// TH2, builds the send/recv Streams for this session's role, and
// transitions to Established.
func (s *Session) finishEstablish(th2 []byte) *protocol.Error {
	if err := s.schedule.DeriveDataSecrets(th2); err != nil {
		return protocol.WrapError(protocol.ErrorKindInternalError, "derive data secrets", err)
	}

	reqKeys, err := s.schedule.DeriveTrafficKeys(s.schedule.RequestDataSecret, s.cfg.Suite.AEADCipher)
	if err != nil {
		return protocol.WrapError(protocol.ErrorKindInternalError, "request traffic keys", err)
	}
	rspKeys, err := s.schedule.DeriveTrafficKeys(s.schedule.ResponseDataSecret, s.cfg.Suite.AEADCipher)
	if err != nil {
		return protocol.WrapError(protocol.ErrorKindInternalError, "response traffic keys", err)
	}

	reqStream := record.NewStream(s.cfg.Crypto, s.cfg.Crypto, s.cfg.Suite.AEADCipher, s.SessionID, s.cfg.SeqLen, record.Keys(reqKeys))
	rspStream := record.NewStream(s.cfg.Crypto, s.cfg.Crypto, s.cfg.Suite.AEADCipher, s.SessionID, s.cfg.SeqLen, record.Keys(rspKeys))

	if s.cfg.Role == connection.RoleRequester {
		s.sendStream, s.recvStream = reqStream, rspStream
	} else {
		s.sendStream, s.recvStream = rspStream, reqStream
	}

	s.State = Established
	return nil
}

func (s *Session) decodeExpect(buf []byte, want protocol.RequestResponseCode) (protocol.Message, *protocol.Error) {
	h, msg, err := s.codec.Decode(buf)
	if err != nil {
		if pe, ok := err.(*protocol.Error); ok {
			return nil, pe
		}
		return nil, protocol.WrapError(protocol.ErrorKindInvalidRequest, "decode failed", err)
	}
	if h.RequestResponseCode == protocol.CodeError {
		em := msg.(protocol.ErrorMsg)
		return nil, protocol.NewError(protocol.ErrorKindSecurityViolation, fmt.Sprintf("peer returned ERROR code=0x%02x data=0x%02x", em.ErrorCode, em.ErrorData))
	}
	if h.RequestResponseCode != want {
		return nil, protocol.NewError(protocol.ErrorKindUnexpectedRequest, fmt.Sprintf("expected %s, got %s", want, h.RequestResponseCode))
	}
	return msg, nil
}

func errRole(op string, want connection.Role) error {
	return protocol.NewError(protocol.ErrorKindInternalError, fmt.Sprintf("session: %s only valid for role %v", op, want))
}
