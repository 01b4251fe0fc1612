package protocol

// Header is the common 4-byte SPDM message prefix present on every PDU.
type Header struct {
	SPDMVersion         Version
	RequestResponseCode RequestResponseCode
	Param1              uint8
	Param2              uint8
}

func decodeHeader(r *reader) (Header, error) {
	var h Header
	v, err := r.u8()
	if err != nil {
		return h, err
	}
	h.SPDMVersion = Version(v)
	c, err := r.u8()
	if err != nil {
		return h, err
	}
	h.RequestResponseCode = RequestResponseCode(c)
	h.Param1, err = r.u8()
	if err != nil {
		return h, err
	}
	h.Param2, err = r.u8()
	if err != nil {
		return h, err
	}
	return h, nil
}

func (h Header) encode(w *writer) {
	w.u8(uint8(h.SPDMVersion))
	w.u8(uint8(h.RequestResponseCode))
	w.u8(h.Param1)
	w.u8(h.Param2)
}

// CapabilityFlags is the bitmask exchanged in GET_CAPABILITIES/CAPABILITIES.
type CapabilityFlags uint32

const (
	CapCertCap       CapabilityFlags = 1 << 1
	CapChalCap       CapabilityFlags = 1 << 2
	CapMeasCap       CapabilityFlags = 1 << 3 // 2-bit field in the real spec; modeled as a flag here
	CapMeasFreshCap  CapabilityFlags = 1 << 5
	CapEncryptCap    CapabilityFlags = 1 << 6
	CapMacCap        CapabilityFlags = 1 << 7
	CapMutAuthCap    CapabilityFlags = 1 << 8
	CapKeyExCap      CapabilityFlags = 1 << 9
	CapPSKCap        CapabilityFlags = 1 << 10
	CapEncapCap      CapabilityFlags = 1 << 12
	CapHBeatCap      CapabilityFlags = 1 << 13
	CapKeyUpdCap     CapabilityFlags = 1 << 14
	CapHandshakeInClearCap CapabilityFlags = 1 << 15
	CapPubKeyIDCap   CapabilityFlags = 1 << 16
)

func (c CapabilityFlags) Has(f CapabilityFlags) bool { return c&f != 0 }
