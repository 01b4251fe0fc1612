package connection

import (
	"fmt"

	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/transcript"
)

// Role distinguishes the two SPDM endpoint roles.
type Role int

const (
	RoleRequester Role = iota
	RoleResponder
)

// CertSlot holds one certificate-chain slot's raw bytes.
type CertSlot struct {
	Chain []byte
}

// AlgorithmPriorities are the Responder's tie-break orders for each
// negotiated category, highest priority first.
type AlgorithmPriorities struct {
	Hash            protocol.Priority[protocol.BaseHashAlgo]
	Asym            protocol.Priority[protocol.BaseAsymAlgo]
	DHE             protocol.Priority[protocol.DHEGroup]
	AEAD            protocol.Priority[protocol.AEADCipherSuite]
	MeasurementHash protocol.Priority[protocol.BaseHashAlgo]
}

// Config parametrizes a new Connection.
type Config struct {
	Role               Role
	LocalVersions      []protocol.Version
	LocalCapabilities  protocol.CapabilityFlags
	Priorities         AlgorithmPriorities
	Crypto             cryptoprovider.Provider
	CertSlots          [8]*CertSlot
	TrustedRootDigests [][]byte
	RootHashAlgo       protocol.BaseHashAlgo
	MaxSPDMMsgSize     int
}

// Connection is the version/capability/algorithm/authentication state
// machine shared by both endpoint roles (§4.7). It owns the VCA, M1M2, and
// L1L2 transcript scopes.
type Connection struct {
	cfg   Config
	codec protocol.Codec

	State         State
	ResponseState ResponseState

	Version            protocol.Version
	peerVersions       []protocol.Version
	peerCapabilities   protocol.CapabilityFlags
	Suite              protocol.AlgorithmSuite

	peerCertChain  []byte
	peerDigests    [][]byte
	challengeNonce [32]byte

	measurementNonce [32]byte
	measurements     []protocol.MeasurementBlock
	signingKeys      [8]any

	// vcaLog and certLog retain the exact wire bytes hashed into ScopeVCA
	// and the cert-exchange portion of ScopeM1M2, so a Session can seed its
	// own TH hasher with "VCA ∥ certs" per §4.8's TH1 definition without
	// sharing a hasher across the connection/session boundary.
	vcaLog  [][]byte
	certLog [][]byte

	transcript *transcript.Manager
}

// SessionTranscriptSeed returns the VCA-then-cert-exchange wire bytes a new
// Session replays into its own TH hasher before appending KEY_EXCHANGE.
func (c *Connection) SessionTranscriptSeed() [][]byte {
	seed := make([][]byte, 0, len(c.vcaLog)+len(c.certLog))
	seed = append(seed, c.vcaLog...)
	seed = append(seed, c.certLog...)
	return seed
}

// New constructs a Connection; its transcript hashes are not yet usable
// until NEGOTIATE_ALGORITHMS fixes the base hash (InitTranscript). The
// GET_VERSION/VERSION exchange itself always rides SPDMVersion 1.0 per
// DSP0274; every later message carries the version the Requester settled
// on, which a Responder adopts from the incoming header.
func New(cfg Config) *Connection {
	return &Connection{cfg: cfg, State: NotStarted, ResponseState: ResponseNormal, Version: protocol.Version10}
}

func (c *Connection) initTranscript(algo protocol.BaseHashAlgo) error {
	m, err := transcript.New(c.cfg.Crypto, algo)
	if err != nil {
		return err
	}
	c.transcript = m
	return nil
}

func (c *Connection) encode(msg protocol.Message) []byte {
	return c.codec.Encode(c.Version, msg)
}

func (c *Connection) appendVCA(wireBytes []byte) {
	c.transcript.Append(transcript.ScopeVCA, wireBytes)
	c.vcaLog = append(c.vcaLog, wireBytes)
}

func (c *Connection) appendCert(wireBytes []byte) {
	c.transcript.Append(transcript.ScopeM1M2, wireBytes)
	c.certLog = append(c.certLog, wireBytes)
}

func (c *Connection) errorf(kind protocol.ErrorKind, format string, args ...any) *protocol.Error {
	return protocol.NewError(kind, fmt.Sprintf(format, args...))
}

// unexpected builds the standard ERROR(UnexpectedRequest) for a request
// code not admitted by the current state, per §4.7's transition rule;
// state is left unchanged by the caller.
func (c *Connection) unexpected(code protocol.RequestResponseCode) *protocol.Error {
	return c.errorf(protocol.ErrorKindUnexpectedRequest, "code %s not valid in state %s", code, c.State)
}

// certSlotDigests returns the hash of each populated local certificate
// slot, using the negotiated base hash.
func (c *Connection) certSlotDigests() (mask uint8, digests [][]byte, err error) {
	for i, slot := range c.cfg.CertSlots {
		if slot == nil {
			continue
		}
		d, herr := c.cfg.Crypto.Hash(c.Suite.BaseHash, slot.Chain)
		if herr != nil {
			return 0, nil, herr
		}
		mask |= 1 << uint(i)
		digests = append(digests, d)
	}
	return mask, digests, nil
}
