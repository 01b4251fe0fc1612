package session_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider/stdprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/session"
)

func testSuite() protocol.AlgorithmSuite {
	return protocol.AlgorithmSuite{
		BaseHash:    protocol.HashSHA256,
		BaseAsym:    protocol.AsymECDSAP256,
		DHEGroup:    protocol.DHESecp256r1,
		AEADCipher:  protocol.AEADAes128Gcm,
		KeySchedule: protocol.KeyScheduleSPDM,
	}
}

// establishedPair drives a non-PSK KEY_EXCHANGE/FINISH handshake to
// completion between a fresh Requester and Responder Session, mirroring
// scenario S3 of the connection/session walk.
func establishedPair(t *testing.T) (*session.Session, *session.Session) {
	t.Helper()
	crypto := stdprovider.New()

	respKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate responder key: %v", err)
	}

	seed := [][]byte{[]byte("vca-transcript"), []byte("cert-transcript")}
	suite := testSuite()
	caps := protocol.CapKeyExCap | protocol.CapEncryptCap | protocol.CapMacCap | protocol.CapKeyUpdCap

	reqSess, err := session.New(session.Config{
		Role:              connection.RoleRequester,
		Crypto:            crypto,
		Version:           protocol.Version12,
		Suite:             suite,
		SeqLen:            2,
		LocalCapabilities: caps,
		PeerCapabilities:  caps,
		TranscriptSeed:    seed,
		PeerLeafKey:       &respKey.PublicKey,
	})
	if err != nil {
		t.Fatalf("new requester session: %v", err)
	}

	rspSess, err := session.New(session.Config{
		Role:              connection.RoleResponder,
		Crypto:            crypto,
		Version:           protocol.Version12,
		Suite:             suite,
		SeqLen:            2,
		LocalCapabilities: caps,
		PeerCapabilities:  caps,
		TranscriptSeed:    seed,
		SessionID:         0xCAFEBABE,
		LocalSigningKey:   respKey,
	})
	if err != nil {
		t.Fatalf("new responder session: %v", err)
	}

	keReq, err := reqSess.BuildKeyExchange(0)
	if err != nil {
		t.Fatalf("BuildKeyExchange: %v", err)
	}
	keRsp, perr := rspSess.HandleKeyExchange(keReq)
	if perr != nil {
		t.Fatalf("HandleKeyExchange: %v", perr)
	}
	if perr := reqSess.OnKeyExchangeRsp(keRsp); perr != nil {
		t.Fatalf("OnKeyExchangeRsp: %v", perr)
	}

	finReq, err := reqSess.BuildFinish()
	if err != nil {
		t.Fatalf("BuildFinish: %v", err)
	}
	finRsp, perr := rspSess.HandleFinish(finReq, nil)
	if perr != nil {
		t.Fatalf("HandleFinish: %v", perr)
	}
	if perr := reqSess.OnFinishRsp(finRsp); perr != nil {
		t.Fatalf("OnFinishRsp: %v", perr)
	}

	if reqSess.State != session.Established {
		t.Fatalf("requester state = %s, want Established", reqSess.State)
	}
	if rspSess.State != session.Established {
		t.Fatalf("responder state = %s, want Established", rspSess.State)
	}
	if reqSess.SessionID != 0xCAFEBABE {
		t.Fatalf("requester session id = 0x%x, want 0xCAFEBABE", reqSess.SessionID)
	}

	return reqSess, rspSess
}

func TestKeyExchangeFinishEstablishesSession(t *testing.T) {
	establishedPair(t)
}

func TestSecuredRoundTrip(t *testing.T) {
	reqSess, rspSess := establishedPair(t)

	wire, err := reqSess.SendSecured([]byte("ping"))
	if err != nil {
		t.Fatalf("SendSecured: %v", err)
	}
	got, err := rspSess.RecvSecured(wire)
	if err != nil {
		t.Fatalf("RecvSecured: %v", err)
	}
	if !bytes.Equal(got, []byte("ping")) {
		t.Fatalf("got %q, want %q", got, "ping")
	}

	wire2, err := rspSess.SendSecured([]byte("pong"))
	if err != nil {
		t.Fatalf("SendSecured (responder): %v", err)
	}
	got2, err := reqSess.RecvSecured(wire2)
	if err != nil {
		t.Fatalf("RecvSecured (requester): %v", err)
	}
	if !bytes.Equal(got2, []byte("pong")) {
		t.Fatalf("got %q, want %q", got2, "pong")
	}
}

func TestKeyUpdateSingleDirection(t *testing.T) {
	reqSess, rspSess := establishedPair(t)

	kuReq, token, err := reqSess.BuildKeyUpdate(protocol.KeyUpdateOperationUpdateKey)
	if err != nil {
		t.Fatalf("BuildKeyUpdate: %v", err)
	}
	kuAck, perr := rspSess.HandleKeyUpdate(kuReq)
	if perr != nil {
		t.Fatalf("HandleKeyUpdate: %v", perr)
	}
	if perr := reqSess.OnKeyUpdateAck(kuAck, protocol.KeyUpdateOperationUpdateKey, token); perr != nil {
		t.Fatalf("OnKeyUpdateAck: %v", perr)
	}

	// Requester now sends under its new key; Responder's recvStream has it
	// pending and must pick it up via the crossover retry.
	wire, err := reqSess.SendSecured([]byte("after-rotation"))
	if err != nil {
		t.Fatalf("SendSecured after rotation: %v", err)
	}
	got, err := rspSess.RecvSecured(wire)
	if err != nil {
		t.Fatalf("RecvSecured after rotation: %v", err)
	}
	if !bytes.Equal(got, []byte("after-rotation")) {
		t.Fatalf("got %q, want %q", got, "after-rotation")
	}

	kuReq2, token2, err := reqSess.BuildKeyUpdate(protocol.KeyUpdateOperationVerifyNewKey)
	if err != nil {
		t.Fatalf("BuildKeyUpdate(VerifyNewKey): %v", err)
	}
	kuAck2, perr := rspSess.HandleKeyUpdate(kuReq2)
	if perr != nil {
		t.Fatalf("HandleKeyUpdate(VerifyNewKey): %v", perr)
	}
	if perr := reqSess.OnKeyUpdateAck(kuAck2, protocol.KeyUpdateOperationVerifyNewKey, token2); perr != nil {
		t.Fatalf("OnKeyUpdateAck(VerifyNewKey): %v", perr)
	}
}

func TestKeyUpdateAllKeysRotatesBothDirections(t *testing.T) {
	reqSess, rspSess := establishedPair(t)

	kuReq, token, err := reqSess.BuildKeyUpdate(protocol.KeyUpdateOperationUpdateAll)
	if err != nil {
		t.Fatalf("BuildKeyUpdate(UpdateAll): %v", err)
	}
	kuAck, perr := rspSess.HandleKeyUpdate(kuReq)
	if perr != nil {
		t.Fatalf("HandleKeyUpdate(UpdateAll): %v", perr)
	}
	if perr := reqSess.OnKeyUpdateAck(kuAck, protocol.KeyUpdateOperationUpdateAll, token); perr != nil {
		t.Fatalf("OnKeyUpdateAck(UpdateAll): %v", perr)
	}

	// Both directions rotated: Responder committed its send key immediately,
	// so its very next message must already be under the new key.
	wire, err := rspSess.SendSecured([]byte("responder-after-update-all"))
	if err != nil {
		t.Fatalf("SendSecured (responder): %v", err)
	}
	got, err := reqSess.RecvSecured(wire)
	if err != nil {
		t.Fatalf("RecvSecured (requester): %v", err)
	}
	if !bytes.Equal(got, []byte("responder-after-update-all")) {
		t.Fatalf("got %q, want %q", got, "responder-after-update-all")
	}
}

func TestEndSessionZeroizesAndRejectsFurtherRecords(t *testing.T) {
	reqSess, rspSess := establishedPair(t)

	endPlain := reqSess.BuildEndSession(false)
	endWire, err := reqSess.SendSecured(endPlain)
	if err != nil {
		t.Fatalf("SendSecured(EndSession): %v", err)
	}
	endPlainAtResponder, err := rspSess.RecvSecured(endWire)
	if err != nil {
		t.Fatalf("RecvSecured(EndSession): %v", err)
	}
	ackPlain, perr := rspSess.HandleEndSession(endPlainAtResponder)
	if perr != nil {
		t.Fatalf("HandleEndSession: %v", perr)
	}
	ackWire, err := rspSess.SendSecured(ackPlain)
	if err != nil {
		t.Fatalf("SendSecured(EndSessionAck): %v", err)
	}
	ackPlainAtRequester, err := reqSess.RecvSecured(ackWire)
	if err != nil {
		t.Fatalf("RecvSecured(EndSessionAck): %v", err)
	}
	if perr := reqSess.OnEndSessionAck(ackPlainAtRequester); perr != nil {
		t.Fatalf("OnEndSessionAck: %v", perr)
	}

	if reqSess.State != session.Terminating || rspSess.State != session.Terminating {
		t.Fatalf("want both sessions Terminating, got requester=%s responder=%s", reqSess.State, rspSess.State)
	}

	if _, err := reqSess.SendSecured([]byte("too-late")); err == nil {
		t.Fatalf("SendSecured after Terminate should fail once keys are zeroized")
	}
}

func TestPSKHandshakeEstablishesSession(t *testing.T) {
	crypto := stdprovider.New()

	psharedKey, err := crypto.Random(32)
	if err != nil {
		t.Fatalf("generate PSK: %v", err)
	}

	seed := [][]byte{[]byte("vca-transcript")}
	suite := testSuite()
	caps := protocol.CapPSKCap | protocol.CapEncryptCap | protocol.CapMacCap

	reqSess, err := session.New(session.Config{
		Role:              connection.RoleRequester,
		Crypto:            crypto,
		Version:           protocol.Version12,
		Suite:             suite,
		SeqLen:            2,
		LocalCapabilities: caps,
		PeerCapabilities:  caps,
		TranscriptSeed:    seed,
		PSK:               psharedKey,
	})
	if err != nil {
		t.Fatalf("new requester session: %v", err)
	}
	rspSess, err := session.New(session.Config{
		Role:              connection.RoleResponder,
		Crypto:            crypto,
		Version:           protocol.Version12,
		Suite:             suite,
		SeqLen:            2,
		LocalCapabilities: caps,
		PeerCapabilities:  caps,
		TranscriptSeed:    seed,
		SessionID:         0xD00D,
		PSK:               psharedKey,
	})
	if err != nil {
		t.Fatalf("new responder session: %v", err)
	}

	pskeReq, err := reqSess.BuildPSKExchange(0, []byte("device-psk-hint"))
	if err != nil {
		t.Fatalf("BuildPSKExchange: %v", err)
	}
	pskeRsp, perr := rspSess.HandlePSKExchange(pskeReq)
	if perr != nil {
		t.Fatalf("HandlePSKExchange: %v", perr)
	}
	if perr := reqSess.OnPSKExchangeRsp(pskeRsp); perr != nil {
		t.Fatalf("OnPSKExchangeRsp: %v", perr)
	}

	finReq, err := reqSess.BuildPSKFinish()
	if err != nil {
		t.Fatalf("BuildPSKFinish: %v", err)
	}
	finRsp, perr := rspSess.HandlePSKFinish(finReq)
	if perr != nil {
		t.Fatalf("HandlePSKFinish: %v", perr)
	}
	if perr := reqSess.OnPSKFinishRsp(finRsp); perr != nil {
		t.Fatalf("OnPSKFinishRsp: %v", perr)
	}

	if reqSess.State != session.Established || rspSess.State != session.Established {
		t.Fatalf("want both Established, got requester=%s responder=%s", reqSess.State, rspSess.State)
	}

	wire, err := reqSess.SendSecured([]byte("psk-ping"))
	if err != nil {
		t.Fatalf("SendSecured: %v", err)
	}
	got, err := rspSess.RecvSecured(wire)
	if err != nil {
		t.Fatalf("RecvSecured: %v", err)
	}
	if !bytes.Equal(got, []byte("psk-ping")) {
		t.Fatalf("got %q, want %q", got, "psk-ping")
	}
}
