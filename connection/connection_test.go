package connection_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider/stdprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
)

func selfSignedLeaf(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "spdm-connection-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return der, key
}

func samplePriorities() connection.AlgorithmPriorities {
	return connection.AlgorithmPriorities{
		Hash: protocol.Priority[protocol.BaseHashAlgo]{protocol.HashSHA384, protocol.HashSHA256},
		Asym: protocol.Priority[protocol.BaseAsymAlgo]{protocol.AsymECDSAP384, protocol.AsymECDSAP256},
		DHE:  protocol.Priority[protocol.DHEGroup]{protocol.DHESecp384r1, protocol.DHESecp256r1},
		AEAD: protocol.Priority[protocol.AEADCipherSuite]{protocol.AEADAes256Gcm, protocol.AEADAes128Gcm},
	}
}

const fullCaps = protocol.CapCertCap | protocol.CapChalCap | protocol.CapMeasCap |
	protocol.CapKeyExCap | protocol.CapEncryptCap | protocol.CapMacCap | protocol.CapKeyUpdCap

// newPair builds a connected Requester/Responder pair of Connections, each
// carrying the Responder's self-signed leaf in slot 0, mirroring scenario
// S1's intersection: versions {1.0,1.1} ∩ {1.1} and a full capability/algorithm
// intersection.
func newPair(t *testing.T) (req, resp *connection.Connection, leafDER []byte, leafKey *ecdsa.PrivateKey) {
	t.Helper()
	crypto := stdprovider.New()
	leafDER, leafKey = selfSignedLeaf(t)
	rootDigest, err := crypto.Hash(protocol.HashSHA384, leafDER)
	if err != nil {
		t.Fatalf("hash root: %v", err)
	}

	respSlots := [8]*connection.CertSlot{0: {Chain: leafDER}}
	resp = connection.New(connection.Config{
		Role:              connection.RoleResponder,
		LocalVersions:     []protocol.Version{protocol.Version11},
		LocalCapabilities: fullCaps,
		Priorities:        samplePriorities(),
		Crypto:            crypto,
		CertSlots:         respSlots,
	})
	resp.SetSigningKey(0, leafKey)

	req = connection.New(connection.Config{
		Role:               connection.RoleRequester,
		LocalVersions:      []protocol.Version{protocol.Version10, protocol.Version11},
		LocalCapabilities:  fullCaps,
		Priorities:         samplePriorities(),
		Crypto:             crypto,
		TrustedRootDigests: [][]byte{rootDigest},
		RootHashAlgo:       protocol.HashSHA384,
	})
	return req, resp, leafDER, leafKey
}

func driveToAuthenticated(t *testing.T, req, resp *connection.Connection, leafLen int) {
	t.Helper()

	getVersion, err := req.BuildGetVersion()
	if err != nil {
		t.Fatalf("BuildGetVersion: %v", err)
	}
	versionRsp, perr := resp.HandleRequest(getVersion)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_VERSION): %v", perr)
	}
	if perr := req.OnVersion(versionRsp); perr != nil {
		t.Fatalf("OnVersion: %v", perr)
	}

	getCaps := req.BuildGetCapabilities()
	capsRsp, perr := resp.HandleRequest(getCaps)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_CAPABILITIES): %v", perr)
	}
	if perr := req.OnCapabilities(capsRsp); perr != nil {
		t.Fatalf("OnCapabilities: %v", perr)
	}

	negAlg := req.BuildNegotiateAlgorithms()
	algRsp, perr := resp.HandleRequest(negAlg)
	if perr != nil {
		t.Fatalf("HandleRequest(NEGOTIATE_ALGORITHMS): %v", perr)
	}
	if perr := req.OnAlgorithms(algRsp); perr != nil {
		t.Fatalf("OnAlgorithms: %v", perr)
	}

	getDigests := req.BuildGetDigests()
	digestsRsp, perr := resp.HandleRequest(getDigests)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_DIGESTS): %v", perr)
	}
	if perr := req.OnDigests(digestsRsp); perr != nil {
		t.Fatalf("OnDigests: %v", perr)
	}

	getCert := req.BuildGetCertificate(0, 0, uint16(leafLen))
	certRsp, perr := resp.HandleRequest(getCert)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_CERTIFICATE): %v", perr)
	}
	if _, perr := req.OnCertificate(certRsp); perr != nil {
		t.Fatalf("OnCertificate: %v", perr)
	}

	challenge, err := req.BuildChallenge(0, 0)
	if err != nil {
		t.Fatalf("BuildChallenge: %v", err)
	}
	challengeRsp, perr := resp.HandleRequest(challenge)
	if perr != nil {
		t.Fatalf("HandleRequest(CHALLENGE): %v", perr)
	}
	if perr := req.OnChallengeAuth(challengeRsp); perr != nil {
		t.Fatalf("OnChallengeAuth: %v", perr)
	}
}

// TestConnectionHappyPathNegotiation exercises scenario S1: the chosen
// version and algorithm suite land on the documented intersection.
func TestConnectionHappyPathNegotiation(t *testing.T) {
	req, resp, leafDER, _ := newPair(t)
	driveToAuthenticated(t, req, resp, len(leafDER))

	if req.Version != protocol.Version11 {
		t.Errorf("negotiated version = %v, want 1.1", req.Version)
	}
	if req.Suite.BaseHash != protocol.HashSHA384 {
		t.Errorf("negotiated hash = %v, want sha384", req.Suite.BaseHash)
	}
	if req.Suite.BaseAsym != protocol.AsymECDSAP384 {
		t.Errorf("negotiated asym = %v, want ecdsa-p384", req.Suite.BaseAsym)
	}
	if req.State != connection.Authenticated {
		t.Fatalf("requester state = %v, want Authenticated", req.State)
	}
	if resp.State != connection.Authenticated {
		t.Fatalf("responder state = %v, want Authenticated", resp.State)
	}
}

// TestConnectionNoVersionIntersectionFails exercises the VersionMismatch
// error path named in §4.7: when GET_VERSION/VERSION responses carry no
// common version, the Requester reports VersionMismatch.
func TestConnectionNoVersionIntersectionFails(t *testing.T) {
	crypto := stdprovider.New()
	resp := connection.New(connection.Config{
		Role:              connection.RoleResponder,
		LocalVersions:     []protocol.Version{protocol.Version12},
		LocalCapabilities: fullCaps,
		Priorities:        samplePriorities(),
		Crypto:            crypto,
	})
	req := connection.New(connection.Config{
		Role:              connection.RoleRequester,
		LocalVersions:     []protocol.Version{protocol.Version10},
		LocalCapabilities: fullCaps,
		Priorities:        samplePriorities(),
		Crypto:            crypto,
	})

	getVersion, err := req.BuildGetVersion()
	if err != nil {
		t.Fatalf("BuildGetVersion: %v", err)
	}
	versionRsp, perr := resp.HandleRequest(getVersion)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_VERSION): %v", perr)
	}
	perr = req.OnVersion(versionRsp)
	if perr == nil {
		t.Fatalf("expected VersionMismatch, got success")
	}
	if perr.Kind != protocol.ErrorKindVersionMismatch {
		t.Errorf("error kind = %v, want VersionMismatch", perr.Kind)
	}
}

// TestConnectionStateMachineRefusesUnexpectedRequest exercises universal
// property 6: a request code not admitted by the current state yields
// ERROR(UnexpectedRequest) and leaves the state unchanged.
func TestConnectionStateMachineRefusesUnexpectedRequest(t *testing.T) {
	_, resp, _, _ := newPair(t)

	// GET_DIGESTS before GET_VERSION/GET_CAPABILITIES/NEGOTIATE_ALGORITHMS
	// have ever happened: resp.State is still NotStarted.
	codec := protocol.Codec{}
	getDigests := codec.Encode(protocol.Version11, protocol.GetDigests{})

	before := resp.State
	_, perr := resp.HandleRequest(getDigests)
	if perr == nil {
		t.Fatalf("expected ERROR(UnexpectedRequest), got success")
	}
	if perr.Kind != protocol.ErrorKindUnexpectedRequest {
		t.Errorf("error kind = %v, want UnexpectedRequest", perr.Kind)
	}
	if resp.State != before {
		t.Errorf("state changed from %v to %v on a refused request", before, resp.State)
	}
}

// TestConnectionChallengeSignatureBindingFails exercises universal property
// 7 / scenario S2: mutating byte 0 of the leaf certificate's DER encoding
// makes the Requester reject the chain against the stored root digest.
func TestConnectionChallengeSignatureBindingFails(t *testing.T) {
	crypto := stdprovider.New()
	leafDER, leafKey := selfSignedLeaf(t)

	// A mutated copy of the leaf: the byte-mutated DER is no longer the
	// certificate whose digest the requester trusts.
	mutated := append([]byte(nil), leafDER...)
	mutated[0] ^= 0xFF

	rootDigest, err := crypto.Hash(protocol.HashSHA384, leafDER)
	if err != nil {
		t.Fatalf("hash root: %v", err)
	}

	respSlots := [8]*connection.CertSlot{0: {Chain: mutated}}
	resp := connection.New(connection.Config{
		Role:              connection.RoleResponder,
		LocalVersions:     []protocol.Version{protocol.Version11},
		LocalCapabilities: fullCaps,
		Priorities:        samplePriorities(),
		Crypto:            crypto,
		CertSlots:         respSlots,
	})
	resp.SetSigningKey(0, leafKey)

	req := connection.New(connection.Config{
		Role:               connection.RoleRequester,
		LocalVersions:      []protocol.Version{protocol.Version11},
		LocalCapabilities:  fullCaps,
		Priorities:         samplePriorities(),
		Crypto:             crypto,
		TrustedRootDigests: [][]byte{rootDigest},
		RootHashAlgo:       protocol.HashSHA384,
	})

	getVersion, _ := req.BuildGetVersion()
	versionRsp, _ := resp.HandleRequest(getVersion)
	req.OnVersion(versionRsp)
	getCaps := req.BuildGetCapabilities()
	capsRsp, _ := resp.HandleRequest(getCaps)
	req.OnCapabilities(capsRsp)
	negAlg := req.BuildNegotiateAlgorithms()
	algRsp, _ := resp.HandleRequest(negAlg)
	req.OnAlgorithms(algRsp)
	getDigests := req.BuildGetDigests()
	digestsRsp, _ := resp.HandleRequest(getDigests)
	req.OnDigests(digestsRsp)
	getCert := req.BuildGetCertificate(0, 0, uint16(len(mutated)))
	certRsp, _ := resp.HandleRequest(getCert)
	req.OnCertificate(certRsp)

	challenge, err := req.BuildChallenge(0, 0)
	if err != nil {
		t.Fatalf("BuildChallenge: %v", err)
	}
	challengeRsp, perr := resp.HandleRequest(challenge)
	if perr != nil {
		t.Fatalf("HandleRequest(CHALLENGE): %v", perr)
	}

	perr = req.OnChallengeAuth(challengeRsp)
	if perr == nil {
		t.Fatalf("expected SecurityViolation from a mutated leaf certificate, got success")
	}
	if perr.Kind != protocol.ErrorKindSecurityViolation {
		t.Errorf("error kind = %v, want SecurityViolation", perr.Kind)
	}
}

// TestConnectionChallengeBindsVCATranscript exercises universal property 7
// against the VCA scope specifically: §4.7 defines M1 as the VCA transcript
// prepended to the cert-exchange and CHALLENGE_AUTH nonce, so flipping a
// byte in a negotiation-phase message (here, a capability flag in flight
// between GET_CAPABILITIES and the Responder, neither side validates the
// peer's flag bits) must make the two sides' M1 diverge even though
// negotiation itself completes normally.
func TestConnectionChallengeBindsVCATranscript(t *testing.T) {
	req, resp, leafDER, _ := newPair(t)

	getVersion, err := req.BuildGetVersion()
	if err != nil {
		t.Fatalf("BuildGetVersion: %v", err)
	}
	versionRsp, perr := resp.HandleRequest(getVersion)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_VERSION): %v", perr)
	}
	if perr := req.OnVersion(versionRsp); perr != nil {
		t.Fatalf("OnVersion: %v", perr)
	}

	getCaps := req.BuildGetCapabilities()
	mutatedCaps := append([]byte(nil), getCaps...)
	mutatedCaps[len(mutatedCaps)-1] ^= 0x01
	capsRsp, perr := resp.HandleRequest(mutatedCaps)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_CAPABILITIES): %v", perr)
	}
	if perr := req.OnCapabilities(capsRsp); perr != nil {
		t.Fatalf("OnCapabilities: %v", perr)
	}

	negAlg := req.BuildNegotiateAlgorithms()
	algRsp, perr := resp.HandleRequest(negAlg)
	if perr != nil {
		t.Fatalf("HandleRequest(NEGOTIATE_ALGORITHMS): %v", perr)
	}
	if perr := req.OnAlgorithms(algRsp); perr != nil {
		t.Fatalf("OnAlgorithms: %v", perr)
	}

	getDigests := req.BuildGetDigests()
	digestsRsp, perr := resp.HandleRequest(getDigests)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_DIGESTS): %v", perr)
	}
	if perr := req.OnDigests(digestsRsp); perr != nil {
		t.Fatalf("OnDigests: %v", perr)
	}

	getCert := req.BuildGetCertificate(0, 0, uint16(len(leafDER)))
	certRsp, perr := resp.HandleRequest(getCert)
	if perr != nil {
		t.Fatalf("HandleRequest(GET_CERTIFICATE): %v", perr)
	}
	if _, perr := req.OnCertificate(certRsp); perr != nil {
		t.Fatalf("OnCertificate: %v", perr)
	}

	challenge, err := req.BuildChallenge(0, 0)
	if err != nil {
		t.Fatalf("BuildChallenge: %v", err)
	}
	challengeRsp, perr := resp.HandleRequest(challenge)
	if perr != nil {
		t.Fatalf("HandleRequest(CHALLENGE): %v", perr)
	}

	perr = req.OnChallengeAuth(challengeRsp)
	if perr == nil {
		t.Fatalf("expected SecurityViolation from a VCA-scope transcript mismatch, got success")
	}
	if perr.Kind != protocol.ErrorKindSecurityViolation {
		t.Errorf("error kind = %v, want SecurityViolation", perr.Kind)
	}
}
