package connection

import (
	"fmt"

	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/transcript"
)

// BuildGetVersion starts the connection, initializing the VCA transcript.
func (c *Connection) BuildGetVersion() ([]byte, error) {
	if c.State != NotStarted {
		return nil, fmt.Errorf("connection: GET_VERSION only valid from NotStarted, have %s", c.State)
	}
	if err := c.initTranscript(protocol.HashSHA256); err != nil {
		return nil, err
	}
	reqBytes := c.encode(protocol.GetVersion{})
	c.appendVCA(reqBytes)
	return reqBytes, nil
}

// OnVersion consumes the VERSION response, picking the highest mutually
// supported version.
func (c *Connection) OnVersion(rspBytes []byte) *protocol.Error {
	msg, perr := c.decodeExpect(rspBytes, protocol.CodeVersion)
	if perr != nil {
		return perr
	}
	vm := msg.(protocol.VersionMsg)
	c.appendVCA(rspBytes)

	peer := make([]protocol.Version, 0, len(vm.Versions))
	for _, e := range vm.Versions {
		peer = append(peer, protocol.Version(e.Major<<4|e.Minor))
	}
	c.peerVersions = peer

	var best protocol.Version
	found := false
	for _, lv := range c.cfg.LocalVersions {
		for _, pv := range peer {
			if lv == pv && (!found || lv > best) {
				best, found = lv, true
			}
		}
	}
	if !found {
		return c.errorf(protocol.ErrorKindVersionMismatch, "no common SPDM version")
	}
	c.Version = best
	c.State = AfterVersion
	return nil
}

func (c *Connection) BuildGetCapabilities() []byte {
	req := protocol.GetCapabilities{Flags: c.cfg.LocalCapabilities}
	reqBytes := c.encode(req)
	c.appendVCA(reqBytes)
	return reqBytes
}

func (c *Connection) OnCapabilities(rspBytes []byte) *protocol.Error {
	msg, perr := c.decodeExpect(rspBytes, protocol.CodeCapabilities)
	if perr != nil {
		return perr
	}
	cm := msg.(protocol.CapabilitiesMsg)
	c.appendVCA(rspBytes)
	c.peerCapabilities = cm.Flags
	c.State = AfterCapabilities
	return nil
}

func (c *Connection) BuildNegotiateAlgorithms() []byte {
	req := protocol.NegotiateAlgorithms{
		BaseAsym:     c.localAsymMask(),
		BaseHash:     c.localHashMask(),
		DHEGroups:    c.localDHEMask(),
		AEADCiphers:  c.localAEADMask(),
		KeySchedules: protocol.KeyScheduleSPDM,
	}
	reqBytes := c.encode(req)
	c.appendVCA(reqBytes)
	return reqBytes
}

func (c *Connection) OnAlgorithms(rspBytes []byte) *protocol.Error {
	msg, perr := c.decodeExpect(rspBytes, protocol.CodeAlgorithms)
	if perr != nil {
		return perr
	}
	am := msg.(protocol.AlgorithmsMsg)

	if err := c.initTranscript(am.BaseHash); err != nil {
		return protocol.WrapError(protocol.ErrorKindInternalError, "transcript reinit", err)
	}
	c.appendVCA(rspBytes)
	c.transcript.SeedBytes(transcript.ScopeM1M2, c.vcaLog...)

	c.Suite = protocol.AlgorithmSuite{
		BaseHash:        am.BaseHash,
		BaseAsym:        am.BaseAsym,
		MeasurementHash: am.MeasurementHash,
		DHEGroup:        am.DHEGroup,
		AEADCipher:      am.AEADCipher,
		KeySchedule:     am.KeySchedule,
	}
	c.State = Negotiated
	return nil
}

func (c *Connection) BuildGetDigests() []byte {
	reqBytes := c.encode(protocol.GetDigests{})
	c.appendCert(reqBytes)
	return reqBytes
}

func (c *Connection) OnDigests(rspBytes []byte) *protocol.Error {
	msg, perr := c.decodeExpect(rspBytes, protocol.CodeDigests)
	if perr != nil {
		return perr
	}
	dm := msg.(protocol.DigestsMsg)
	c.appendCert(rspBytes)
	c.peerDigests = dm.Digests
	c.State = AfterDigests
	return nil
}

func (c *Connection) BuildGetCertificate(slotID uint8, offset, length uint16) []byte {
	reqBytes := c.encode(protocol.GetCertificate{SlotID: slotID, Offset: offset, Length: length})
	c.appendCert(reqBytes)
	return reqBytes
}

// OnCertificate appends the received chain portion and reports whether more
// remains (RemainderLen > 0), for the caller to issue a follow-up
// GET_CERTIFICATE at the advanced offset.
func (c *Connection) OnCertificate(rspBytes []byte) (remaining uint16, err *protocol.Error) {
	msg, perr := c.decodeExpect(rspBytes, protocol.CodeCertificate)
	if perr != nil {
		return 0, perr
	}
	cm := msg.(protocol.CertificateMsg)
	c.appendCert(rspBytes)
	c.peerCertChain = append(c.peerCertChain, cm.CertChain...)
	if cm.RemainderLen == 0 {
		c.State = AfterCertificate
	}
	return cm.RemainderLen, nil
}

// PeerCertChain returns the fully assembled peer certificate chain.
func (c *Connection) PeerCertChain() []byte { return c.peerCertChain }

// BuildChallenge issues CHALLENGE with a fresh nonce.
func (c *Connection) BuildChallenge(slotID, measurementSummaryHashType uint8) ([]byte, error) {
	nonce, err := c.cfg.Crypto.Random(32)
	if err != nil {
		return nil, err
	}
	copy(c.challengeNonce[:], nonce)
	req := protocol.Challenge{SlotID: slotID, MeasurementSummaryHashType: measurementSummaryHashType, Nonce: c.challengeNonce}
	reqBytes := c.encode(req)
	c.transcript.Append(transcript.ScopeM1M2, reqBytes)
	return reqBytes, nil
}

// OnChallengeAuth verifies the Responder's signature over the M1 transcript
// against its leaf certificate, and the chain against the trust store.
func (c *Connection) OnChallengeAuth(rspBytes []byte) *protocol.Error {
	msg, perr := c.decodeExpect(rspBytes, protocol.CodeChallengeAuth)
	if perr != nil {
		return perr
	}
	cam := msg.(protocol.ChallengeAuthMsg)

	if err := c.cfg.Crypto.VerifyChain(c.peerCertChain, c.cfg.TrustedRootDigests, c.cfg.RootHashAlgo); err != nil {
		return protocol.WrapError(protocol.ErrorKindSecurityViolation, "peer certificate chain", err)
	}
	certHash, herr := c.cfg.Crypto.Hash(c.Suite.BaseHash, c.peerCertChain)
	if herr != nil {
		return protocol.WrapError(protocol.ErrorKindInternalError, "cert hash", herr)
	}
	if string(certHash) != string(cam.CertChainHash) {
		return c.errorf(protocol.ErrorKindSecurityViolation, "CHALLENGE_AUTH cert chain hash mismatch")
	}

	partial := cam
	partial.Signature = nil
	c.transcript.Append(transcript.ScopeM1M2, c.partialChallengeAuthBytes(partial))
	m1 := c.transcript.Snapshot(transcript.ScopeM1M2)

	leafKey, perr2 := c.cfg.Crypto.ParseLeaf(c.peerCertChain)
	if perr2 != nil {
		return protocol.WrapError(protocol.ErrorKindSecurityViolation, "parse leaf public key", perr2)
	}
	if err := c.cfg.Crypto.Verify(c.Suite.BaseAsym, leafKey, m1, cam.Signature); err != nil {
		return protocol.WrapError(protocol.ErrorKindSecurityViolation, "CHALLENGE_AUTH signature", err)
	}

	c.State = Authenticated
	return nil
}

// BuildGetMeasurements requests one measurement block (or the count, or
// all blocks) optionally with a signature.
func (c *Connection) BuildGetMeasurements(signatureRequested bool, index, slotID uint8) ([]byte, error) {
	req := protocol.GetMeasurements{SignatureRequested: signatureRequested, MeasurementIndex: index}
	if signatureRequested {
		nonce, err := c.cfg.Crypto.Random(32)
		if err != nil {
			return nil, err
		}
		copy(req.Nonce[:], nonce)
		req.HasNonce = true
		req.SlotID = slotID
	}
	reqBytes := c.encode(req)
	c.transcript.Append(transcript.ScopeL1L2, reqBytes)
	return reqBytes, nil
}

// OnMeasurements consumes a MEASUREMENTS response, verifying its signature
// over L1 when present.
func (c *Connection) OnMeasurements(rspBytes []byte) ([]protocol.MeasurementBlock, *protocol.Error) {
	msg, perr := c.decodeExpect(rspBytes, protocol.CodeMeasurements)
	if perr != nil {
		return nil, perr
	}
	mm := msg.(protocol.MeasurementsMsg)

	if len(mm.Signature) > 0 {
		partial := mm
		partial.Signature = nil
		c.transcript.Append(transcript.ScopeL1L2, c.encode(partial))
		l1 := c.transcript.Snapshot(transcript.ScopeL1L2)
		leafKey, err := c.cfg.Crypto.ParseLeaf(c.peerCertChain)
		if err != nil {
			return nil, protocol.WrapError(protocol.ErrorKindSecurityViolation, "parse leaf public key", err)
		}
		if err := c.cfg.Crypto.Verify(c.Suite.BaseAsym, leafKey, l1, mm.Signature); err != nil {
			return nil, protocol.WrapError(protocol.ErrorKindSecurityViolation, "MEASUREMENTS signature", err)
		}
	} else {
		c.transcript.Append(transcript.ScopeL1L2, rspBytes)
	}

	c.State = AfterMeasurements
	return mm.Blocks, nil
}

func (c *Connection) decodeExpect(buf []byte, want protocol.RequestResponseCode) (protocol.Message, *protocol.Error) {
	h, msg, err := c.codec.Decode(buf)
	if err != nil {
		if pe, ok := err.(*protocol.Error); ok {
			return nil, pe
		}
		return nil, protocol.WrapError(protocol.ErrorKindInvalidRequest, "decode failed", err)
	}
	if h.RequestResponseCode == protocol.CodeError {
		em := msg.(protocol.ErrorMsg)
		return nil, c.errorf(protocol.ErrorKindSecurityViolation, "peer returned ERROR code=0x%02x data=0x%02x", em.ErrorCode, em.ErrorData)
	}
	if h.RequestResponseCode != want {
		return nil, c.errorf(protocol.ErrorKindUnexpectedRequest, "expected %s, got %s", want, h.RequestResponseCode)
	}
	return msg, nil
}
