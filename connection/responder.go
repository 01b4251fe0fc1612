package connection

import (
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/transcript"
)

// HandleRequest decodes one request PDU, advances the connection state
// machine, and returns the encoded response PDU. A non-nil *protocol.Error
// is the caller's cue to encode an ERROR PDU instead; per §7, ERROR
// replies never themselves mutate state, so HandleRequest only mutates
// state on the success path.
func (c *Connection) HandleRequest(reqBytes []byte) ([]byte, *protocol.Error) {
	if c.ResponseState != ResponseNormal {
		return nil, c.errorf(responseStateKind(c.ResponseState), "responder busy")
	}

	h, msg, err := c.codec.Decode(reqBytes)
	if err != nil {
		if pe, ok := err.(*protocol.Error); ok {
			return nil, pe
		}
		return nil, protocol.WrapError(protocol.ErrorKindInvalidRequest, "decode failed", err)
	}
	if h.RequestResponseCode != protocol.CodeGetVersion {
		c.Version = h.SPDMVersion
	}

	switch m := msg.(type) {
	case protocol.GetVersion:
		return c.handleGetVersion(reqBytes, m)
	case protocol.GetCapabilities:
		return c.handleGetCapabilities(reqBytes, m)
	case protocol.NegotiateAlgorithms:
		return c.handleNegotiateAlgorithms(reqBytes, m)
	case protocol.GetDigests:
		return c.handleGetDigests(reqBytes, m)
	case protocol.GetCertificate:
		return c.handleGetCertificate(reqBytes, m)
	case protocol.Challenge:
		return c.handleChallenge(reqBytes, m)
	case protocol.GetMeasurements:
		return c.handleGetMeasurements(reqBytes, m)
	default:
		return nil, c.errorf(protocol.ErrorKindUnexpectedRequest, "unexpected request code %s", msg.Code())
	}
}

func responseStateKind(rs ResponseState) protocol.ErrorKind {
	switch rs {
	case ResponseBusy:
		return protocol.ErrorKindBusy
	case ResponseNotReady:
		return protocol.ErrorKindNotReady
	case ResponseNeedResync:
		return protocol.ErrorKindRequestResynch
	default:
		return protocol.ErrorKindInternalError
	}
}

func (c *Connection) handleGetVersion(reqBytes []byte, _ protocol.GetVersion) ([]byte, *protocol.Error) {
	if c.State != NotStarted {
		return nil, c.unexpected(protocol.CodeGetVersion)
	}
	versions := make([]protocol.VersionEntry, 0, len(c.cfg.LocalVersions))
	for _, v := range c.cfg.LocalVersions {
		versions = append(versions, protocol.VersionEntry{Major: uint8(v >> 4), Minor: uint8(v & 0xF)})
	}
	rsp := protocol.VersionMsg{Versions: versions}
	rspBytes := c.encode(rsp)

	if err := c.initTranscript(protocol.HashSHA256); err != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "transcript init", err)
	}
	c.appendVCA(reqBytes)
	c.appendVCA(rspBytes)
	c.State = AfterVersion
	return rspBytes, nil
}

func (c *Connection) handleGetCapabilities(reqBytes []byte, req protocol.GetCapabilities) ([]byte, *protocol.Error) {
	if c.State != AfterVersion {
		return nil, c.unexpected(protocol.CodeGetCapabilities)
	}
	c.peerCapabilities = req.Flags
	rsp := protocol.CapabilitiesMsg{CTExponent: 0, Flags: c.cfg.LocalCapabilities}
	rspBytes := c.encode(rsp)
	c.appendVCA(reqBytes)
	c.appendVCA(rspBytes)
	c.State = AfterCapabilities
	return rspBytes, nil
}

func (c *Connection) handleNegotiateAlgorithms(reqBytes []byte, req protocol.NegotiateAlgorithms) ([]byte, *protocol.Error) {
	if c.State != AfterCapabilities {
		return nil, c.unexpected(protocol.CodeNegotiateAlgorithms)
	}

	hash, ok := protocol.Choose(c.cfg.Priorities.Hash, c.localHashMask(), req.BaseHash)
	if !ok {
		return nil, c.errorf(protocol.ErrorKindUnsupportedRequest, "no common base hash algorithm")
	}
	asym, ok := protocol.Choose(c.cfg.Priorities.Asym, c.localAsymMask(), req.BaseAsym)
	if !ok {
		return nil, c.errorf(protocol.ErrorKindUnsupportedRequest, "no common asymmetric algorithm")
	}
	dhe, ok := protocol.Choose(c.cfg.Priorities.DHE, c.localDHEMask(), req.DHEGroups)
	if !ok {
		return nil, c.errorf(protocol.ErrorKindUnsupportedRequest, "no common DHE group")
	}
	aead, ok := protocol.Choose(c.cfg.Priorities.AEAD, c.localAEADMask(), req.AEADCiphers)
	if !ok {
		return nil, c.errorf(protocol.ErrorKindUnsupportedRequest, "no common AEAD cipher")
	}
	measHash, ok := protocol.Choose(c.cfg.Priorities.MeasurementHash, c.localHashMask(), req.BaseHash)
	if !ok {
		measHash = hash
	}

	c.Suite = protocol.AlgorithmSuite{
		BaseHash:        hash,
		BaseAsym:        asym,
		MeasurementHash: measHash,
		DHEGroup:        dhe,
		AEADCipher:      aead,
		KeySchedule:     protocol.KeyScheduleSPDM,
	}

	if err := c.initTranscript(hash); err != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "transcript reinit", err)
	}

	rsp := protocol.AlgorithmsMsg{
		MeasurementHash: measHash,
		BaseAsym:        asym,
		BaseHash:        hash,
		DHEGroup:        dhe,
		AEADCipher:      aead,
		KeySchedule:     protocol.KeyScheduleSPDM,
	}
	rspBytes := c.encode(rsp)
	c.appendVCA(reqBytes)
	c.appendVCA(rspBytes)
	c.transcript.SeedBytes(transcript.ScopeM1M2, c.vcaLog...)
	c.State = Negotiated
	return rspBytes, nil
}

func (c *Connection) handleGetDigests(reqBytes []byte, _ protocol.GetDigests) ([]byte, *protocol.Error) {
	if c.State != Negotiated && c.State != AfterDigests && c.State != AfterCertificate {
		return nil, c.unexpected(protocol.CodeGetDigests)
	}
	mask, digests, err := c.certSlotDigests()
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "digest computation", err)
	}
	rsp := protocol.DigestsMsg{SlotMask: mask, Digests: digests}
	rspBytes := c.encode(rsp)
	c.appendCert(reqBytes)
	c.appendCert(rspBytes)
	c.State = AfterDigests
	return rspBytes, nil
}

func (c *Connection) handleGetCertificate(reqBytes []byte, req protocol.GetCertificate) ([]byte, *protocol.Error) {
	if c.State != AfterDigests && c.State != AfterCertificate {
		return nil, c.unexpected(protocol.CodeGetCertificate)
	}
	slot := c.cfg.CertSlots[req.SlotID]
	if slot == nil {
		return nil, c.errorf(protocol.ErrorKindInvalidRequest, "certificate slot %d not populated", req.SlotID)
	}
	chain := slot.Chain
	if int(req.Offset) > len(chain) || int(req.Offset)+int(req.Length) > len(chain) {
		return nil, c.errorf(protocol.ErrorKindInvalidRequest, "requested range out of bounds")
	}
	portion := chain[req.Offset : int(req.Offset)+int(req.Length)]
	remainder := len(chain) - int(req.Offset) - int(req.Length)
	rsp := protocol.CertificateMsg{SlotID: req.SlotID, RemainderLen: uint16(remainder), CertChain: portion}
	rspBytes := c.encode(rsp)
	c.appendCert(reqBytes)
	c.appendCert(rspBytes)
	c.State = AfterCertificate
	return rspBytes, nil
}

// handleChallenge signs Hash(M1) where M1 is the VCA ∥ GET_DIGESTS ∥
// DIGESTS ∥ (GET_CERTIFICATE ∥ CERTIFICATE)* ∥ CHALLENGE_AUTH-nonce
// transcript, per §4.7.
func (c *Connection) handleChallenge(reqBytes []byte, req protocol.Challenge) ([]byte, *protocol.Error) {
	if c.State != AfterCertificate && c.State != Authenticated {
		return nil, c.unexpected(protocol.CodeChallenge)
	}
	if !c.cfg.LocalCapabilities.Has(protocol.CapChalCap) {
		return nil, c.errorf(protocol.ErrorKindUnsupportedRequest, "CHAL_CAP not set locally")
	}
	slot := c.cfg.CertSlots[req.SlotID]
	if slot == nil {
		return nil, c.errorf(protocol.ErrorKindInvalidRequest, "certificate slot %d not populated", req.SlotID)
	}
	certHash, err := c.cfg.Crypto.Hash(c.Suite.BaseHash, slot.Chain)
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "cert hash", err)
	}

	c.transcript.Append(transcript.ScopeM1M2, reqBytes)

	nonce, rerr := c.cfg.Crypto.Random(32)
	if rerr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "nonce generation", rerr)
	}
	var respNonce [32]byte
	copy(respNonce[:], nonce)

	mask, _, derr := c.certSlotDigests()
	if derr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "digest computation", derr)
	}

	partial := protocol.ChallengeAuthMsg{
		SlotID:        req.SlotID,
		SlotMask:      mask,
		CertChainHash: certHash,
		Nonce:         respNonce,
	}
	c.transcript.Append(transcript.ScopeM1M2, c.partialChallengeAuthBytes(partial))

	m1 := c.transcript.Snapshot(transcript.ScopeM1M2)
	sig, serr := c.cfg.Crypto.Sign(c.Suite.BaseAsym, c.localSigningKeyFor(req.SlotID), m1)
	if serr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "challenge signature", serr)
	}

	rsp := partial
	rsp.Signature = sig
	rspBytes := c.encode(rsp)
	c.State = Authenticated
	return rspBytes, nil
}

// partialChallengeAuthBytes encodes the fields of a CHALLENGE_AUTH message
// that precede its signature, for transcript inclusion before the
// signature itself exists.
func (c *Connection) partialChallengeAuthBytes(partial protocol.ChallengeAuthMsg) []byte {
	return c.encode(partial)
}

func (c *Connection) handleGetMeasurements(reqBytes []byte, req protocol.GetMeasurements) ([]byte, *protocol.Error) {
	if c.State != Authenticated && c.State != AfterMeasurements {
		return nil, c.unexpected(protocol.CodeGetMeasurements)
	}
	if !c.cfg.LocalCapabilities.Has(protocol.CapMeasCap) {
		return nil, c.errorf(protocol.ErrorKindUnsupportedRequest, "MEAS_CAP not set locally")
	}

	c.transcript.Append(transcript.ScopeL1L2, reqBytes)

	blocks := c.measurementBlocksFor(req.MeasurementIndex)
	nonce, rerr := c.cfg.Crypto.Random(32)
	if rerr != nil {
		return nil, protocol.WrapError(protocol.ErrorKindInternalError, "nonce generation", rerr)
	}
	var respNonce [32]byte
	copy(respNonce[:], nonce)

	rsp := protocol.MeasurementsMsg{
		NumberOfBlocks: uint8(len(blocks)),
		Blocks:         blocks,
		Nonce:          respNonce,
	}
	if req.MeasurementIndex == protocol.MeasurementRequestTotalCount {
		rsp.NumberOfBlocks = uint8(len(c.measurements))
	}

	if req.SignatureRequested {
		partialBytes := c.encode(rsp)
		c.transcript.Append(transcript.ScopeL1L2, partialBytes)
		l1 := c.transcript.Snapshot(transcript.ScopeL1L2)
		sig, serr := c.cfg.Crypto.Sign(c.Suite.BaseAsym, c.localSigningKeyFor(req.SlotID), l1)
		if serr != nil {
			return nil, protocol.WrapError(protocol.ErrorKindInternalError, "measurement signature", serr)
		}
		rsp.Signature = sig
		rspBytes := c.encode(rsp)
		c.State = AfterMeasurements
		return rspBytes, nil
	}

	rspBytes := c.encode(rsp)
	c.transcript.Append(transcript.ScopeL1L2, rspBytes)
	c.State = AfterMeasurements
	return rspBytes, nil
}

// measurementBlocksFor returns the blocks matching a GET_MEASUREMENTS
// index; index 0 means "total count only" (no blocks), 0xFF means "all
// blocks". Hosts populate actual firmware measurements via SetMeasurements;
// an empty set here just reports zero blocks.
func (c *Connection) measurementBlocksFor(index uint8) []protocol.MeasurementBlock {
	switch index {
	case protocol.MeasurementRequestTotalCount:
		return nil
	case protocol.MeasurementRequestAll:
		return c.measurements
	default:
		for _, b := range c.measurements {
			if b.Index == index {
				return []protocol.MeasurementBlock{b}
			}
		}
		return nil
	}
}

// SetMeasurements installs the firmware measurement blocks a Responder
// will serve from GET_MEASUREMENTS.
func (c *Connection) SetMeasurements(blocks []protocol.MeasurementBlock) {
	c.measurements = blocks
}

func (c *Connection) localSigningKeyFor(slotID uint8) any {
	if int(slotID) >= len(c.signingKeys) {
		return nil
	}
	return c.signingKeys[slotID]
}

// SetSigningKey installs the private key used to sign CHALLENGE_AUTH and
// signed MEASUREMENTS for certificate slot.
func (c *Connection) SetSigningKey(slot uint8, key any) {
	c.signingKeys[slot] = key
}

func (c *Connection) localHashMask() protocol.BaseHashAlgo {
	var mask protocol.BaseHashAlgo
	for _, h := range c.cfg.Priorities.Hash {
		mask |= h
	}
	return mask
}

func (c *Connection) localAsymMask() protocol.BaseAsymAlgo {
	var mask protocol.BaseAsymAlgo
	for _, a := range c.cfg.Priorities.Asym {
		mask |= a
	}
	return mask
}

func (c *Connection) localDHEMask() protocol.DHEGroup {
	var mask protocol.DHEGroup
	for _, d := range c.cfg.Priorities.DHE {
		mask |= d
	}
	return mask
}

func (c *Connection) localAEADMask() protocol.AEADCipherSuite {
	var mask protocol.AEADCipherSuite
	for _, a := range c.cfg.Priorities.AEAD {
		mask |= a
	}
	return mask
}
