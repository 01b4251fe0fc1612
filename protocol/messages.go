package protocol

// Message is implemented by every decoded SPDM PDU. The codec decodes into
// the concrete type matching the wire RequestResponseCode; the state
// machines type-switch on (state, concrete type) per the tagged-variant
// dispatch pattern. headerParams lets a handful of messages (those whose
// wire format places a field in the 4-byte header rather than the body,
// e.g. KEY_UPDATE's operation) contribute Param1/Param2; everything else
// returns (0, 0) and carries its fields entirely in the body.
type Message interface {
	Code() RequestResponseCode
	encodeBody(w *writer)
	headerParams() (p1, p2 uint8)
}

func zeroParams() (uint8, uint8) { return 0, 0 }

// --- GET_VERSION / VERSION ---

type GetVersion struct{}

func (GetVersion) Code() RequestResponseCode    { return CodeGetVersion }
func (GetVersion) encodeBody(*writer)           {}
func (GetVersion) headerParams() (uint8, uint8) { return zeroParams() }

type VersionEntry struct {
	Major, Minor, UpdateVersion uint8
	Alpha                       uint8
}

func (v VersionEntry) pack() uint16 {
	return uint16(v.Alpha) | uint16(v.UpdateVersion)<<4 | uint16(v.Minor)<<8 | uint16(v.Major)<<12
}

func unpackVersionEntry(raw uint16) VersionEntry {
	return VersionEntry{
		Alpha:         uint8(raw & 0xF),
		UpdateVersion: uint8((raw >> 4) & 0xF),
		Minor:         uint8((raw >> 8) & 0xF),
		Major:         uint8((raw >> 12) & 0xF),
	}
}

type VersionMsg struct {
	Versions []VersionEntry
}

func (VersionMsg) Code() RequestResponseCode    { return CodeVersion }
func (VersionMsg) headerParams() (uint8, uint8) { return zeroParams() }
func (m VersionMsg) encodeBody(w *writer) {
	w.u8(0) // reserved
	w.u8(uint8(len(m.Versions)))
	for _, v := range m.Versions {
		w.u16(v.pack())
	}
}

// --- GET_CAPABILITIES / CAPABILITIES ---

type GetCapabilities struct {
	CTExponent uint8
	Flags      CapabilityFlags
}

func (GetCapabilities) Code() RequestResponseCode    { return CodeGetCapabilities }
func (GetCapabilities) headerParams() (uint8, uint8) { return zeroParams() }
func (m GetCapabilities) encodeBody(w *writer) {
	w.u8(0)
	w.u8(0)
	w.u8(m.CTExponent)
	w.u8(0)
	w.u32(uint32(m.Flags))
}

type CapabilitiesMsg struct {
	CTExponent uint8
	Flags      CapabilityFlags
}

func (CapabilitiesMsg) Code() RequestResponseCode    { return CodeCapabilities }
func (CapabilitiesMsg) headerParams() (uint8, uint8) { return zeroParams() }
func (m CapabilitiesMsg) encodeBody(w *writer) {
	w.u8(0)
	w.u8(0)
	w.u8(m.CTExponent)
	w.u8(0)
	w.u32(uint32(m.Flags))
}

// --- NEGOTIATE_ALGORITHMS / ALGORITHMS ---

type NegotiateAlgorithms struct {
	MeasurementSpec uint8
	BaseAsym        BaseAsymAlgo
	BaseHash        BaseHashAlgo
	DHEGroups       DHEGroup
	AEADCiphers     AEADCipherSuite
	KeySchedules    KeyScheduleAlgo
}

func (NegotiateAlgorithms) Code() RequestResponseCode    { return CodeNegotiateAlgorithms }
func (NegotiateAlgorithms) headerParams() (uint8, uint8) { return zeroParams() }
func (m NegotiateAlgorithms) encodeBody(w *writer) {
	w.u8(m.MeasurementSpec)
	w.u8(0)
	w.u32(uint32(m.BaseAsym))
	w.u32(uint32(m.BaseHash))
	w.u32(uint32(m.DHEGroups))
	w.u16(uint16(m.AEADCiphers))
	w.u8(uint8(m.KeySchedules))
	w.u8(0)
}

type AlgorithmsMsg struct {
	MeasurementHash BaseHashAlgo
	BaseAsym        BaseAsymAlgo
	BaseHash        BaseHashAlgo
	DHEGroup        DHEGroup
	AEADCipher      AEADCipherSuite
	KeySchedule     KeyScheduleAlgo
}

func (AlgorithmsMsg) Code() RequestResponseCode    { return CodeAlgorithms }
func (AlgorithmsMsg) headerParams() (uint8, uint8) { return zeroParams() }
func (m AlgorithmsMsg) encodeBody(w *writer) {
	w.u32(uint32(m.MeasurementHash))
	w.u32(uint32(m.BaseAsym))
	w.u32(uint32(m.BaseHash))
	w.u32(uint32(m.DHEGroup))
	w.u16(uint16(m.AEADCipher))
	w.u8(uint8(m.KeySchedule))
	w.u8(0)
}

// --- GET_DIGESTS / DIGESTS ---

type GetDigests struct{}

func (GetDigests) Code() RequestResponseCode    { return CodeGetDigests }
func (GetDigests) encodeBody(*writer)           {}
func (GetDigests) headerParams() (uint8, uint8) { return zeroParams() }

// DigestsMsg carries one digest per populated certificate-chain slot. Each
// digest is length-prefixed so the decoder never has to be told the
// negotiated hash size out of band.
type DigestsMsg struct {
	SlotMask uint8 // bit i set => cert chain slot i is populated
	Digests  [][]byte
}

func (DigestsMsg) Code() RequestResponseCode    { return CodeDigests }
func (DigestsMsg) headerParams() (uint8, uint8) { return zeroParams() }
func (m DigestsMsg) encodeBody(w *writer) {
	w.u8(m.SlotMask)
	for _, d := range m.Digests {
		w.lenPrefixed16(d)
	}
}

// --- GET_CERTIFICATE / CERTIFICATE ---

type GetCertificate struct {
	SlotID uint8
	Offset uint16
	Length uint16
}

func (GetCertificate) Code() RequestResponseCode    { return CodeGetCertificate }
func (GetCertificate) headerParams() (uint8, uint8) { return zeroParams() }
func (m GetCertificate) encodeBody(w *writer) {
	w.u8(m.SlotID)
	w.u8(0)
	w.u16(m.Offset)
	w.u16(m.Length)
}

type CertificateMsg struct {
	SlotID       uint8
	RemainderLen uint16
	CertChain    []byte // the requested portion only
}

func (CertificateMsg) Code() RequestResponseCode    { return CodeCertificate }
func (CertificateMsg) headerParams() (uint8, uint8) { return zeroParams() }
func (m CertificateMsg) encodeBody(w *writer) {
	w.u8(m.SlotID)
	w.u8(0)
	w.u16(m.RemainderLen)
	w.lenPrefixed16(m.CertChain)
}

// --- CHALLENGE / CHALLENGE_AUTH ---

type Challenge struct {
	SlotID                     uint8
	MeasurementSummaryHashType uint8
	Nonce                      [32]byte
}

func (Challenge) Code() RequestResponseCode    { return CodeChallenge }
func (Challenge) headerParams() (uint8, uint8) { return zeroParams() }
func (m Challenge) encodeBody(w *writer) {
	w.u8(m.SlotID)
	w.u8(m.MeasurementSummaryHashType)
	w.bytes(m.Nonce[:])
}

// ChallengeAuthMsg. MeasurementSummary is length-prefixed so its presence
// (driven by the request's MeasurementSummaryHashType) never has to be
// inferred by the decoder.
type ChallengeAuthMsg struct {
	SlotID             uint8
	SlotMask           uint8
	CertChainHash      []byte
	Nonce              [32]byte
	MeasurementSummary []byte
	OpaqueData         []byte
	Signature          []byte
}

func (ChallengeAuthMsg) Code() RequestResponseCode    { return CodeChallengeAuth }
func (ChallengeAuthMsg) headerParams() (uint8, uint8) { return zeroParams() }
func (m ChallengeAuthMsg) encodeBody(w *writer) {
	w.u8(m.SlotID)
	w.u8(m.SlotMask)
	w.lenPrefixed16(m.CertChainHash)
	w.bytes(m.Nonce[:])
	w.lenPrefixed16(m.MeasurementSummary)
	w.lenPrefixed16(m.OpaqueData)
	w.lenPrefixed16(m.Signature)
}

// --- GET_MEASUREMENTS / MEASUREMENTS ---

type GetMeasurements struct {
	SignatureRequested bool
	RawBitstream       bool
	MeasurementIndex   uint8
	SlotID             uint8
	Nonce              [32]byte
	HasNonce           bool
}

func (GetMeasurements) Code() RequestResponseCode    { return CodeGetMeasurements }
func (GetMeasurements) headerParams() (uint8, uint8) { return zeroParams() }
func (m GetMeasurements) encodeBody(w *writer) {
	var p1 uint8
	if m.SignatureRequested {
		p1 |= 0x1
	}
	if m.RawBitstream {
		p1 |= 0x2
	}
	w.u8(p1)
	w.u8(m.MeasurementIndex)
	if m.SignatureRequested {
		w.bytes(m.Nonce[:])
		w.u8(m.SlotID)
	}
}

type MeasurementBlock struct {
	Index            uint8
	MeasurementSpec  uint8
	MeasurementValue []byte
}

type MeasurementsMsg struct {
	NumberOfBlocks uint8
	Blocks         []MeasurementBlock
	Nonce          [32]byte
	OpaqueData     []byte
	Signature      []byte // empty when the exchange was unsigned
}

func (MeasurementsMsg) Code() RequestResponseCode    { return CodeMeasurements }
func (MeasurementsMsg) headerParams() (uint8, uint8) { return zeroParams() }
func (m MeasurementsMsg) encodeBody(w *writer) {
	w.u8(m.NumberOfBlocks)
	body := newWriter()
	for _, b := range m.Blocks {
		body.u8(b.Index)
		body.u8(b.MeasurementSpec)
		body.lenPrefixed16(b.MeasurementValue)
	}
	w.u32(uint32(len(body.Bytes())))
	w.bytes(body.Bytes())
	w.bytes(m.Nonce[:])
	w.lenPrefixed16(m.OpaqueData)
	w.lenPrefixed16(m.Signature)
}

// --- KEY_EXCHANGE / KEY_EXCHANGE_RSP ---

type KeyExchange struct {
	MeasurementSummaryHashType uint8
	SlotID                     uint8
	RandomNonce                [32]byte
	ExchangeData               []byte
	OpaqueData                 []byte
}

func (KeyExchange) Code() RequestResponseCode    { return CodeKeyExchange }
func (KeyExchange) headerParams() (uint8, uint8) { return zeroParams() }
func (m KeyExchange) encodeBody(w *writer) {
	w.u8(m.MeasurementSummaryHashType)
	w.u8(m.SlotID)
	w.bytes(m.RandomNonce[:])
	w.lenPrefixed16(m.ExchangeData)
	w.lenPrefixed16(m.OpaqueData)
}

type KeyExchangeRsp struct {
	SessionID           uint32
	MutualAuthRequested bool
	SlotID              uint8
	RandomNonce         [32]byte
	ExchangeData        []byte
	MeasurementSummary  []byte
	OpaqueData          []byte
	Signature           []byte
	ResponderVerifyData []byte // empty when HANDSHAKE_IN_THE_CLEAR_CAP=1 on both sides
}

func (KeyExchangeRsp) Code() RequestResponseCode    { return CodeKeyExchangeRsp }
func (KeyExchangeRsp) headerParams() (uint8, uint8) { return zeroParams() }
func (m KeyExchangeRsp) encodeBody(w *writer) {
	w.u32(m.SessionID)
	var p2 uint8
	if m.MutualAuthRequested {
		p2 = 1
	}
	w.u8(p2)
	w.u8(m.SlotID)
	w.bytes(m.RandomNonce[:])
	w.lenPrefixed16(m.ExchangeData)
	w.lenPrefixed16(m.MeasurementSummary)
	w.lenPrefixed16(m.OpaqueData)
	w.lenPrefixed16(m.Signature)
	w.lenPrefixed16(m.ResponderVerifyData)
}

// --- FINISH / FINISH_RSP ---

type Finish struct {
	SlotID     uint8
	HasSig     bool
	Signature  []byte
	VerifyData []byte
}

func (Finish) Code() RequestResponseCode    { return CodeFinish }
func (Finish) headerParams() (uint8, uint8) { return zeroParams() }
func (m Finish) encodeBody(w *writer) {
	w.u8(m.SlotID)
	w.lenPrefixed16(m.Signature)
	w.lenPrefixed16(m.VerifyData)
}

type FinishRsp struct {
	ResponderVerifyData []byte // empty when HANDSHAKE_IN_THE_CLEAR_CAP=1 on both sides
}

func (FinishRsp) Code() RequestResponseCode    { return CodeFinishRsp }
func (FinishRsp) headerParams() (uint8, uint8) { return zeroParams() }
func (m FinishRsp) encodeBody(w *writer) {
	w.lenPrefixed16(m.ResponderVerifyData)
}

// --- PSK_EXCHANGE / PSK_EXCHANGE_RSP ---

type PSKExchange struct {
	MeasurementSummaryHashType uint8
	PSKHint                    []byte
	Context                    []byte
	OpaqueData                 []byte
}

func (PSKExchange) Code() RequestResponseCode    { return CodePSKExchange }
func (PSKExchange) headerParams() (uint8, uint8) { return zeroParams() }
func (m PSKExchange) encodeBody(w *writer) {
	w.u8(m.MeasurementSummaryHashType)
	w.u8(0)
	w.lenPrefixed16(m.PSKHint)
	w.lenPrefixed16(m.Context)
	w.lenPrefixed16(m.OpaqueData)
}

type PSKExchangeRsp struct {
	SessionID           uint32
	Context              []byte
	MeasurementSummary   []byte
	OpaqueData           []byte
	ResponderVerifyData  []byte
}

func (PSKExchangeRsp) Code() RequestResponseCode    { return CodePSKExchangeRsp }
func (PSKExchangeRsp) headerParams() (uint8, uint8) { return zeroParams() }
func (m PSKExchangeRsp) encodeBody(w *writer) {
	w.u32(m.SessionID)
	w.lenPrefixed16(m.Context)
	w.lenPrefixed16(m.MeasurementSummary)
	w.lenPrefixed16(m.OpaqueData)
	w.lenPrefixed16(m.ResponderVerifyData)
}

type PSKFinish struct {
	VerifyData []byte
}

func (PSKFinish) Code() RequestResponseCode    { return CodePSKFinish }
func (PSKFinish) headerParams() (uint8, uint8) { return zeroParams() }
func (m PSKFinish) encodeBody(w *writer) { w.lenPrefixed16(m.VerifyData) }

type PSKFinishRsp struct{}

func (PSKFinishRsp) Code() RequestResponseCode    { return CodePSKFinishRsp }
func (PSKFinishRsp) encodeBody(*writer)           {}
func (PSKFinishRsp) headerParams() (uint8, uint8) { return zeroParams() }

// --- KEY_UPDATE / KEY_UPDATE_ACK ---
//
// Per DSP0274, the update operation and the one-byte anti-replay token ride
// in the header's Param1/Param2, not the body: the responder's
// KEY_UPDATE_ACK must echo both without the body even being inspected.

type KeyUpdate struct {
	Operation KeyUpdateOp
	Token     uint8
}

func (KeyUpdate) Code() RequestResponseCode { return CodeKeyUpdate }
func (KeyUpdate) encodeBody(*writer)        {}
func (m KeyUpdate) headerParams() (uint8, uint8) {
	return uint8(m.Operation), m.Token
}

type KeyUpdateAck struct {
	Operation KeyUpdateOp
	Token     uint8
}

func (KeyUpdateAck) Code() RequestResponseCode { return CodeKeyUpdateAck }
func (KeyUpdateAck) encodeBody(*writer)        {}
func (m KeyUpdateAck) headerParams() (uint8, uint8) {
	return uint8(m.Operation), m.Token
}

// --- END_SESSION / END_SESSION_ACK ---

type EndSession struct {
	PreserveNegotiatedState bool
}

func (EndSession) Code() RequestResponseCode { return CodeEndSession }
func (EndSession) encodeBody(*writer)        {}
func (m EndSession) headerParams() (uint8, uint8) {
	if m.PreserveNegotiatedState {
		return 1, 0
	}
	return 0, 0
}

type EndSessionAck struct{}

func (EndSessionAck) Code() RequestResponseCode    { return CodeEndSessionAck }
func (EndSessionAck) encodeBody(*writer)           {}
func (EndSessionAck) headerParams() (uint8, uint8) { return zeroParams() }

// --- HEARTBEAT / HEARTBEAT_ACK ---

type Heartbeat struct{}

func (Heartbeat) Code() RequestResponseCode    { return CodeHeartbeat }
func (Heartbeat) encodeBody(*writer)           {}
func (Heartbeat) headerParams() (uint8, uint8) { return zeroParams() }

type HeartbeatAck struct{}

func (HeartbeatAck) Code() RequestResponseCode    { return CodeHeartbeatAck }
func (HeartbeatAck) encodeBody(*writer)           {}
func (HeartbeatAck) headerParams() (uint8, uint8) { return zeroParams() }

// --- ERROR ---
//
// ErrorMsg is produced only by Decode: ErrorCode/ErrorData come from the
// header's Param1/Param2 (mirrored here for caller convenience), and the
// optional vendor-defined extended error data is the rest of the body.
// Encoding an ERROR PDU goes through Codec.EncodeError, not this type.
type ErrorMsg struct {
	ErrorCode    uint8
	ErrorData    uint8
	ExtendedData []byte
}

func (ErrorMsg) Code() RequestResponseCode    { return CodeError }
func (ErrorMsg) headerParams() (uint8, uint8) { return zeroParams() }
func (m ErrorMsg) encodeBody(w *writer) {
	w.bytes(m.ExtendedData)
}
