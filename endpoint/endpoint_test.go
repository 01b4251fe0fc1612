package endpoint_test

import (
	"context"
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
	"github.com/dmtf-spdm/go-spdm/endpoint"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/transport/loopback"
)

// selfSignedLeaf returns a self-signed ECDSA P-256 certificate (acting as
// both leaf and trust root) and its signing key.
func selfSignedLeaf(t *testing.T) (der []byte, key *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "spdm-endpoint-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err = x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return der, key
}

const caps = protocol.CapCertCap | protocol.CapChalCap | protocol.CapMeasCap |
	protocol.CapKeyExCap | protocol.CapEncryptCap | protocol.CapMacCap | protocol.CapKeyUpdCap

// serveResponder answers each request on ch with ProcessRequest until ch
// closes or ProcessRequest fails.
func serveResponder(t *testing.T, ep *endpoint.Endpoint, ch interface {
	Send(context.Context, []byte) error
	Receive(context.Context) ([]byte, error)
}) {
	t.Helper()
	go func() {
		for {
			req, err := ch.Receive(context.Background())
			if err != nil {
				return
			}
			rsp, err := ep.ProcessRequest(req)
			if err != nil {
				return
			}
			if err := ch.Send(context.Background(), rsp); err != nil {
				return
			}
		}
	}()
}

func TestEndpointFullWalk(t *testing.T) {
	der, key := selfSignedLeaf(t)
	crypto := stdprovider.New()
	rootDigest, err := crypto.Hash(protocol.HashSHA256, der)
	if err != nil {
		t.Fatalf("hash root: %v", err)
	}

	priorities := connection.AlgorithmPriorities{
		Hash: protocol.Priority[protocol.BaseHashAlgo]{protocol.HashSHA256},
		Asym: protocol.Priority[protocol.BaseAsymAlgo]{protocol.AsymECDSAP256},
		DHE:  protocol.Priority[protocol.DHEGroup]{protocol.DHESecp256r1},
		AEAD: protocol.Priority[protocol.AEADCipherSuite]{protocol.AEADAes128Gcm},
	}

	respEp := endpoint.New(endpoint.Config{
		Role:              connection.RoleResponder,
		LocalVersions:     []protocol.Version{protocol.Version12},
		LocalCapabilities: caps,
		Priorities:        priorities,
		Crypto:            crypto,
		SeqLen:            2,
	})
	if err := respEp.SetCertChain(0, der, key); err != nil {
		t.Fatalf("set cert chain: %v", err)
	}

	reqEp := endpoint.New(endpoint.Config{
		Role:               connection.RoleRequester,
		LocalVersions:      []protocol.Version{protocol.Version12},
		LocalCapabilities:  caps,
		Priorities:         priorities,
		Crypto:             crypto,
		TrustedRootDigests: [][]byte{rootDigest},
		RootHashAlgo:       protocol.HashSHA256,
		SeqLen:             2,
	})

	reqCh, respCh := loopback.Pair(2)
	serveResponder(t, respEp, respCh)

	ctx := context.Background()
	if err := reqEp.Connect(ctx, reqCh, 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if reqEp.Connection().State != connection.AfterMeasurements {
		t.Errorf("expected AfterMeasurements, got %v", reqEp.Connection().State)
	}

	sessionID, err := reqEp.StartSession(ctx, reqCh, endpoint.SessionOptions{LocalSlotID: 0})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	heartbeat := (protocol.Codec{}).Encode(protocol.Version12, protocol.Heartbeat{})
	rsp, err := reqEp.SendSecured(ctx, reqCh, sessionID, heartbeat)
	if err != nil {
		t.Fatalf("secured exchange: %v", err)
	}
	if len(rsp) == 0 {
		t.Errorf("expected a non-empty secured response")
	}

	if err := reqEp.KeyUpdate(ctx, reqCh, sessionID, protocol.KeyUpdateOperationUpdateKey); err != nil {
		t.Fatalf("key update: %v", err)
	}

	if err := reqEp.EndSession(ctx, reqCh, sessionID, false); err != nil {
		t.Fatalf("end session: %v", err)
	}
}
