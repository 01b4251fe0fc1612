package protocol_test

import (
	"bytes"
	"testing"

	"github.com/dmtf-spdm/go-spdm/protocol"
)

// roundTrip encodes msg, decodes the result, and returns the decoded
// message for field-by-field comparison by the caller.
func roundTrip(t *testing.T, msg protocol.Message) (protocol.Message, []byte) {
	t.Helper()
	codec := protocol.Codec{}
	wire := codec.Encode(protocol.Version12, msg)
	h, decoded, err := codec.Decode(wire)
	if err != nil {
		t.Fatalf("decode(%T): %v", msg, err)
	}
	if h.RequestResponseCode != msg.Code() {
		t.Fatalf("decoded code = %v, want %v", h.RequestResponseCode, msg.Code())
	}
	return decoded, wire
}

func TestCodecRoundTripVersion(t *testing.T) {
	msg := protocol.VersionMsg{Versions: []protocol.VersionEntry{
		{Major: 1, Minor: 0},
		{Major: 1, Minor: 1},
		{Major: 1, Minor: 2},
	}}
	decoded, _ := roundTrip(t, msg)
	got := decoded.(protocol.VersionMsg)
	if len(got.Versions) != len(msg.Versions) {
		t.Fatalf("got %d versions, want %d", len(got.Versions), len(msg.Versions))
	}
	for i, v := range msg.Versions {
		if got.Versions[i] != v {
			t.Errorf("version[%d] = %+v, want %+v", i, got.Versions[i], v)
		}
	}
}

func TestCodecRoundTripCapabilities(t *testing.T) {
	msg := protocol.CapabilitiesMsg{
		CTExponent: 14,
		Flags:      protocol.CapCertCap | protocol.CapChalCap | protocol.CapKeyExCap,
	}
	decoded, _ := roundTrip(t, msg)
	got := decoded.(protocol.CapabilitiesMsg)
	if got != msg {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestCodecRoundTripAlgorithms(t *testing.T) {
	msg := protocol.AlgorithmsMsg{
		MeasurementHash: protocol.HashSHA384,
		BaseAsym:        protocol.AsymECDSAP384,
		BaseHash:        protocol.HashSHA384,
		DHEGroup:        protocol.DHESecp384r1,
		AEADCipher:      protocol.AEADAes256Gcm,
		KeySchedule:     protocol.KeyScheduleSPDM,
	}
	decoded, _ := roundTrip(t, msg)
	got := decoded.(protocol.AlgorithmsMsg)
	if got != msg {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestCodecRoundTripDigests(t *testing.T) {
	msg := protocol.DigestsMsg{
		SlotMask: 0x05,
		Digests:  [][]byte{bytes.Repeat([]byte{0xAA}, 32), bytes.Repeat([]byte{0xBB}, 32)},
	}
	decoded, _ := roundTrip(t, msg)
	got := decoded.(protocol.DigestsMsg)
	if got.SlotMask != msg.SlotMask {
		t.Errorf("slot mask = %#x, want %#x", got.SlotMask, msg.SlotMask)
	}
	if len(got.Digests) != len(msg.Digests) {
		t.Fatalf("got %d digests, want %d", len(got.Digests), len(msg.Digests))
	}
	for i := range msg.Digests {
		if !bytes.Equal(got.Digests[i], msg.Digests[i]) {
			t.Errorf("digest[%d] mismatch", i)
		}
	}
}

func TestCodecRoundTripCertificate(t *testing.T) {
	msg := protocol.CertificateMsg{
		SlotID:       2,
		RemainderLen: 1024,
		CertChain:    []byte("fake-der-cert-bytes"),
	}
	decoded, _ := roundTrip(t, msg)
	got := decoded.(protocol.CertificateMsg)
	if got.SlotID != msg.SlotID || got.RemainderLen != msg.RemainderLen || !bytes.Equal(got.CertChain, msg.CertChain) {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestCodecRoundTripChallengeAuth(t *testing.T) {
	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}
	msg := protocol.ChallengeAuthMsg{
		SlotID:        1,
		SlotMask:      0x01,
		CertChainHash: bytes.Repeat([]byte{0xCC}, 48),
		Nonce:         nonce,
		Signature:     bytes.Repeat([]byte{0xDD}, 96),
	}
	decoded, _ := roundTrip(t, msg)
	got := decoded.(protocol.ChallengeAuthMsg)
	if got.SlotID != msg.SlotID || got.Nonce != msg.Nonce || !bytes.Equal(got.Signature, msg.Signature) {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

func TestCodecRoundTripKeyExchange(t *testing.T) {
	msg := protocol.KeyExchange{
		MeasurementSummaryHashType: 1,
		SlotID:                     3,
		ExchangeData:               bytes.Repeat([]byte{0x11}, 65),
	}
	decoded, _ := roundTrip(t, msg)
	got := decoded.(protocol.KeyExchange)
	if got.SlotID != msg.SlotID || !bytes.Equal(got.ExchangeData, msg.ExchangeData) {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

// TestCodecRoundTripKeyUpdate checks a message family whose fields ride
// entirely in header Param1/Param2, never the body.
func TestCodecRoundTripKeyUpdate(t *testing.T) {
	msg := protocol.KeyUpdate{Operation: protocol.KeyUpdateOperationUpdateAll, Token: 0x42}
	decoded, _ := roundTrip(t, msg)
	got := decoded.(protocol.KeyUpdate)
	if got != msg {
		t.Errorf("got %+v, want %+v", got, msg)
	}
}

// TestCodecMalformedTruncatedLengthPrefix asserts the §4.3 contract: a
// declared length exceeding the remaining buffer fails closed rather than
// panicking or silently truncating.
func TestCodecMalformedTruncatedLengthPrefix(t *testing.T) {
	codec := protocol.Codec{}
	wire := codec.Encode(protocol.Version12, protocol.CertificateMsg{
		SlotID: 0, RemainderLen: 0, CertChain: []byte("0123456789"),
	})
	// Corrupt the length prefix of the length-prefixed CertChain field to
	// claim more bytes than actually follow.
	corrupt := append([]byte(nil), wire...)
	lenOff := len(corrupt) - len("0123456789") - 2
	corrupt[lenOff] = 0xFF
	corrupt[lenOff+1] = 0xFF

	if _, _, err := codec.Decode(corrupt); err == nil {
		t.Fatalf("expected decode to fail on an over-long declared length")
	}
}

// TestCodecUnknownCodeIsUnexpected confirms unknown request codes collapse
// to an UnexpectedRequest error rather than a panic, matching the §9
// dispatch design note.
func TestCodecUnknownCodeIsUnexpected(t *testing.T) {
	codec := protocol.Codec{}
	buf := []byte{uint8(protocol.Version12), 0xEE, 0, 0}
	if _, _, err := codec.Decode(buf); !protocol.IsKind(err, protocol.ErrorKindUnexpectedRequest) {
		t.Fatalf("expected decode of an unknown request code to fail with UnexpectedRequest, got %v", err)
	}
}

func TestCodecEncodeError(t *testing.T) {
	codec := protocol.Codec{}
	wire := codec.EncodeError(protocol.Version12, protocol.ErrorKindBusy, 0x07)
	h, msg, err := codec.Decode(wire)
	if err != nil {
		t.Fatalf("decode ERROR: %v", err)
	}
	if h.RequestResponseCode != protocol.CodeError {
		t.Fatalf("code = %v, want CodeError", h.RequestResponseCode)
	}
	em := msg.(protocol.ErrorMsg)
	if em.ErrorData != 0x07 {
		t.Errorf("error data = %#x, want 0x07", em.ErrorData)
	}
}
