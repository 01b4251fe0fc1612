package protocol

// Codec encodes and decodes SPDM PDUs. It carries no state: every call is
// independent, and the transcript manager is fed the exact bytes this codec
// produced or consumed by the caller, not by the codec itself.
type Codec struct{}

// Encode serializes a full PDU (header + body) to wire bytes.
func (Codec) Encode(version Version, msg Message) []byte {
	w := newWriter()
	p1, p2 := msg.headerParams()
	h := Header{SPDMVersion: version, RequestResponseCode: msg.Code(), Param1: p1, Param2: p2}
	h.encode(w)
	msg.encodeBody(w)
	return w.Bytes()
}

// EncodeError serializes an ERROR PDU.
func (Codec) EncodeError(version Version, kind ErrorKind, data uint8) []byte {
	w := newWriter()
	h := Header{SPDMVersion: version, RequestResponseCode: CodeError, Param1: kind.wireCode(), Param2: data}
	h.encode(w)
	return w.Bytes()
}

// Decode parses wire bytes into a Header and the matching tagged Message
// variant. Unknown codes return *Error with ErrorKindUnexpectedRequest and
// malformed bodies return *Error with ErrorKindInvalidRequest (per §7: the
// codec itself never judges sequencing, only wire well-formedness).
func (Codec) Decode(buf []byte) (Header, Message, error) {
	r := newReader(buf)
	h, err := decodeHeader(r)
	if err != nil {
		return h, nil, err
	}
	msg, err := decodeBody(h, r)
	if err != nil {
		return h, nil, err
	}
	return h, msg, nil
}

func decodeBody(h Header, r *reader) (Message, error) {
	switch h.RequestResponseCode {
	case CodeGetVersion:
		return GetVersion{}, nil
	case CodeVersion:
		return decodeVersionMsg(r)
	case CodeGetCapabilities:
		return decodeGetCapabilities(r)
	case CodeCapabilities:
		return decodeCapabilitiesMsg(r)
	case CodeNegotiateAlgorithms:
		return decodeNegotiateAlgorithms(r)
	case CodeAlgorithms:
		return decodeAlgorithmsMsg(r)
	case CodeGetDigests:
		return GetDigests{}, nil
	case CodeDigests:
		return decodeDigestsMsg(r)
	case CodeGetCertificate:
		return decodeGetCertificate(r)
	case CodeCertificate:
		return decodeCertificateMsg(r)
	case CodeChallenge:
		return decodeChallenge(r)
	case CodeChallengeAuth:
		return decodeChallengeAuthMsg(r)
	case CodeGetMeasurements:
		return decodeGetMeasurements(r)
	case CodeMeasurements:
		return decodeMeasurementsMsg(r)
	case CodeKeyExchange:
		return decodeKeyExchange(r)
	case CodeKeyExchangeRsp:
		return decodeKeyExchangeRsp(r)
	case CodeFinish:
		return decodeFinish(r)
	case CodeFinishRsp:
		return decodeFinishRsp(r)
	case CodePSKExchange:
		return decodePSKExchange(r)
	case CodePSKExchangeRsp:
		return decodePSKExchangeRsp(r)
	case CodePSKFinish:
		return decodePSKFinish(r)
	case CodePSKFinishRsp:
		return PSKFinishRsp{}, nil
	case CodeKeyUpdate:
		return KeyUpdate{Operation: KeyUpdateOp(h.Param1), Token: h.Param2}, nil
	case CodeKeyUpdateAck:
		return KeyUpdateAck{Operation: KeyUpdateOp(h.Param1), Token: h.Param2}, nil
	case CodeEndSession:
		return EndSession{PreserveNegotiatedState: h.Param1 != 0}, nil
	case CodeEndSessionAck:
		return EndSessionAck{}, nil
	case CodeHeartbeat:
		return Heartbeat{}, nil
	case CodeHeartbeatAck:
		return HeartbeatAck{}, nil
	case CodeError:
		return decodeErrorMsg(r, h)
	default:
		return nil, NewError(ErrorKindUnexpectedRequest, "unknown request/response code")
	}
}

func decodeVersionMsg(r *reader) (Message, error) {
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	m := VersionMsg{Versions: make([]VersionEntry, 0, n)}
	for i := 0; i < int(n); i++ {
		raw, err := r.u16()
		if err != nil {
			return nil, err
		}
		m.Versions = append(m.Versions, unpackVersionEntry(raw))
	}
	return m, nil
}

func decodeGetCapabilities(r *reader) (Message, error) {
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	ct, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	flags, err := r.u32()
	if err != nil {
		return nil, err
	}
	return GetCapabilities{CTExponent: ct, Flags: CapabilityFlags(flags)}, nil
}

func decodeCapabilitiesMsg(r *reader) (Message, error) {
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	ct, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	flags, err := r.u32()
	if err != nil {
		return nil, err
	}
	return CapabilitiesMsg{CTExponent: ct, Flags: CapabilityFlags(flags)}, nil
}

func decodeNegotiateAlgorithms(r *reader) (Message, error) {
	spec, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	asym, err := r.u32()
	if err != nil {
		return nil, err
	}
	hash, err := r.u32()
	if err != nil {
		return nil, err
	}
	dhe, err := r.u32()
	if err != nil {
		return nil, err
	}
	aead, err := r.u16()
	if err != nil {
		return nil, err
	}
	ks, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	return NegotiateAlgorithms{
		MeasurementSpec: spec,
		BaseAsym:        BaseAsymAlgo(asym),
		BaseHash:        BaseHashAlgo(hash),
		DHEGroups:       DHEGroup(dhe),
		AEADCiphers:     AEADCipherSuite(aead),
		KeySchedules:    KeyScheduleAlgo(ks),
	}, nil
}

func decodeAlgorithmsMsg(r *reader) (Message, error) {
	measHash, err := r.u32()
	if err != nil {
		return nil, err
	}
	asym, err := r.u32()
	if err != nil {
		return nil, err
	}
	hash, err := r.u32()
	if err != nil {
		return nil, err
	}
	dhe, err := r.u32()
	if err != nil {
		return nil, err
	}
	aead, err := r.u16()
	if err != nil {
		return nil, err
	}
	ks, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	return AlgorithmsMsg{
		MeasurementHash: BaseHashAlgo(measHash),
		BaseAsym:        BaseAsymAlgo(asym),
		BaseHash:        BaseHashAlgo(hash),
		DHEGroup:        DHEGroup(dhe),
		AEADCipher:      AEADCipherSuite(aead),
		KeySchedule:     KeyScheduleAlgo(ks),
	}, nil
}

func decodeDigestsMsg(r *reader) (Message, error) {
	mask, err := r.u8()
	if err != nil {
		return nil, err
	}
	m := DigestsMsg{SlotMask: mask}
	for r.remaining() > 0 {
		d, err := r.lenPrefixed16()
		if err != nil {
			return nil, err
		}
		m.Digests = append(m.Digests, append([]byte(nil), d...))
	}
	return m, nil
}

func decodeGetCertificate(r *reader) (Message, error) {
	slot, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	off, err := r.u16()
	if err != nil {
		return nil, err
	}
	length, err := r.u16()
	if err != nil {
		return nil, err
	}
	return GetCertificate{SlotID: slot, Offset: off, Length: length}, nil
}

func decodeCertificateMsg(r *reader) (Message, error) {
	slot, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	remainder, err := r.u16()
	if err != nil {
		return nil, err
	}
	chain, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	return CertificateMsg{SlotID: slot, RemainderLen: remainder, CertChain: append([]byte(nil), chain...)}, nil
}

func decodeChallenge(r *reader) (Message, error) {
	var m Challenge
	slot, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.SlotID = slot
	hashType, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.MeasurementSummaryHashType = hashType
	n, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.Nonce[:], n)
	return m, nil
}

func decodeChallengeAuthMsg(r *reader) (Message, error) {
	slot, err := r.u8()
	if err != nil {
		return nil, err
	}
	mask, err := r.u8()
	if err != nil {
		return nil, err
	}
	hash, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	nonce, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	m := ChallengeAuthMsg{SlotID: slot, SlotMask: mask, CertChainHash: append([]byte(nil), hash...)}
	copy(m.Nonce[:], nonce)
	measSummary, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.MeasurementSummary = measSummary
	opaque, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.OpaqueData = opaque
	sig, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.Signature = append([]byte(nil), sig...)
	return m, nil
}

func decodeGetMeasurements(r *reader) (Message, error) {
	p1, err := r.u8()
	if err != nil {
		return nil, err
	}
	idx, err := r.u8()
	if err != nil {
		return nil, err
	}
	m := GetMeasurements{
		SignatureRequested: p1&0x1 != 0,
		RawBitstream:       p1&0x2 != 0,
		MeasurementIndex:   idx,
	}
	if m.SignatureRequested {
		n, err := r.bytes(32)
		if err != nil {
			return nil, err
		}
		copy(m.Nonce[:], n)
		m.HasNonce = true
		m.SlotID, err = r.u8()
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeMeasurementsMsg(r *reader) (Message, error) {
	n, err := r.u8()
	if err != nil {
		return nil, err
	}
	total, err := r.u32()
	if err != nil {
		return nil, err
	}
	blockBytes, err := r.bytes(int(total))
	if err != nil {
		return nil, err
	}
	br := newReader(blockBytes)
	m := MeasurementsMsg{NumberOfBlocks: n}
	for br.remaining() > 0 {
		idx, err := br.u8()
		if err != nil {
			return nil, err
		}
		spec, err := br.u8()
		if err != nil {
			return nil, err
		}
		val, err := br.lenPrefixed16()
		if err != nil {
			return nil, err
		}
		m.Blocks = append(m.Blocks, MeasurementBlock{Index: idx, MeasurementSpec: spec, MeasurementValue: append([]byte(nil), val...)})
	}
	nonce, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.Nonce[:], nonce)
	opaque, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.OpaqueData = opaque
	sig, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	if len(sig) > 0 {
		m.Signature = append([]byte(nil), sig...)
	}
	return m, nil
}

func decodeKeyExchange(r *reader) (Message, error) {
	hashType, err := r.u8()
	if err != nil {
		return nil, err
	}
	slot, err := r.u8()
	if err != nil {
		return nil, err
	}
	m := KeyExchange{MeasurementSummaryHashType: hashType, SlotID: slot}
	n, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.RandomNonce[:], n)
	ex, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.ExchangeData = append([]byte(nil), ex...)
	opaque, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.OpaqueData = opaque
	return m, nil
}

func decodeKeyExchangeRsp(r *reader) (Message, error) {
	sessionID, err := r.u32()
	if err != nil {
		return nil, err
	}
	p2, err := r.u8()
	if err != nil {
		return nil, err
	}
	slot, err := r.u8()
	if err != nil {
		return nil, err
	}
	m := KeyExchangeRsp{SessionID: sessionID, MutualAuthRequested: p2 != 0, SlotID: slot}
	n, err := r.bytes(32)
	if err != nil {
		return nil, err
	}
	copy(m.RandomNonce[:], n)
	ex, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.ExchangeData = append([]byte(nil), ex...)
	meas, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.MeasurementSummary = meas
	opaque, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.OpaqueData = opaque
	sig, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.Signature = append([]byte(nil), sig...)
	verify, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.ResponderVerifyData = append([]byte(nil), verify...)
	return m, nil
}

func decodeFinish(r *reader) (Message, error) {
	slot, err := r.u8()
	if err != nil {
		return nil, err
	}
	sig, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	verify, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	return Finish{SlotID: slot, HasSig: len(sig) > 0, Signature: append([]byte(nil), sig...), VerifyData: append([]byte(nil), verify...)}, nil
}

func decodeFinishRsp(r *reader) (Message, error) {
	verify, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	return FinishRsp{ResponderVerifyData: append([]byte(nil), verify...)}, nil
}

func decodePSKExchange(r *reader) (Message, error) {
	hashType, err := r.u8()
	if err != nil {
		return nil, err
	}
	if _, err := r.u8(); err != nil {
		return nil, err
	}
	m := PSKExchange{MeasurementSummaryHashType: hashType}
	hint, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.PSKHint = hint
	ctx, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.Context = ctx
	opaque, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.OpaqueData = opaque
	return m, nil
}

func decodePSKExchangeRsp(r *reader) (Message, error) {
	sessionID, err := r.u32()
	if err != nil {
		return nil, err
	}
	m := PSKExchangeRsp{SessionID: sessionID}
	ctx, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.Context = ctx
	meas, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.MeasurementSummary = meas
	opaque, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.OpaqueData = opaque
	verify, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	m.ResponderVerifyData = append([]byte(nil), verify...)
	return m, nil
}

func decodePSKFinish(r *reader) (Message, error) {
	verify, err := r.lenPrefixed16()
	if err != nil {
		return nil, err
	}
	return PSKFinish{VerifyData: append([]byte(nil), verify...)}, nil
}

func decodeErrorMsg(r *reader, h Header) (Message, error) {
	tail, err := r.bytes(r.remaining())
	if err != nil {
		return nil, err
	}
	return ErrorMsg{ErrorCode: h.Param1, ErrorData: h.Param2, ExtendedData: append([]byte(nil), tail...)}, nil
}
