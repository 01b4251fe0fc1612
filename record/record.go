// Package record implements the DSP0277 secured-message record layer: AEAD
// framing of application messages with a strict, non-windowed sequence
// number discipline.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
)

// MaxRandomPad bounds the random padding appended to plaintext before
// sealing; the padding is covered by the AEAD tag and discarded on decode.
const MaxRandomPad = 32

// Direction selects which traffic secret a Stream uses to seal/open.
type Direction int

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

// Keys is one direction's current AEAD key and IV.
type Keys struct {
	Key cryptoprovider.Secret
	IV  cryptoprovider.Secret
}

// Stream frames and seals/opens one direction's secured records for one
// session. Send and receive directions each get their own Stream; a
// session owns one of each (so four total for a bidirectional session:
// send-request/recv-response on the Requester side mirrored by
// recv-request/send-response on the Responder side).
type Stream struct {
	aead      cryptoprovider.AEAD
	suite     protocol.AEADCipherSuite
	rand      cryptoprovider.Randomizer
	sessionID uint32
	seqLen    int
	seq       uint64

	keys Keys
	// pending holds the next-generation key installed by KEY_UPDATE before
	// VERIFY_NEW_KEY retires the current one; Open retries under pending on
	// a current-key AEAD failure during the crossover window only.
	pending *Keys
}

// NewStream constructs a Stream bound to one direction's current keys.
func NewStream(aead cryptoprovider.AEAD, rnd cryptoprovider.Randomizer, suite protocol.AEADCipherSuite, sessionID uint32, seqLen int, keys Keys) *Stream {
	return &Stream{aead: aead, suite: suite, rand: rnd, sessionID: sessionID, seqLen: seqLen, keys: keys}
}

// Seal frames and encrypts payload under the current key and seq, then
// increments seq. It never consults pending: only the sender that issued
// KEY_UPDATE switches to its new key, and only after the peer ACKs.
func (s *Stream) Seal(payload []byte) ([]byte, error) {
	padLenByte, err := s.rand.Random(1)
	if err != nil {
		return nil, fmt.Errorf("record: random pad length: %w", err)
	}
	padLen := int(padLenByte[0]) % (MaxRandomPad + 1)
	pad, err := s.rand.Random(padLen)
	if err != nil {
		return nil, fmt.Errorf("record: random padding: %w", err)
	}

	plaintext := make([]byte, 0, 2+len(payload)+len(pad))
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	plaintext = append(plaintext, lenBuf[:]...)
	plaintext = append(plaintext, payload...)
	plaintext = append(plaintext, pad...)

	return s.sealWith(s.keys, plaintext)
}

func (s *Stream) sealWith(keys Keys, plaintext []byte) ([]byte, error) {
	iv := xorSeq(keys.IV, s.seq)
	tagSize := s.suite.TagSize()
	aad := s.buildAAD(uint16(len(plaintext) + tagSize))
	ciphertext, err := s.aead.Seal(s.suite, keys.Key, iv, aad, plaintext)
	if err != nil {
		return nil, fmt.Errorf("record: seal: %w", err)
	}
	record := append(append([]byte(nil), aad...), ciphertext...)
	s.seq++
	return record, nil
}

// Open parses and decrypts a record received under seq. On AEAD failure
// during a KEY_UPDATE crossover, it retries once against pending; success
// there promotes pending to current, matching "old key retained until
// VERIFY_NEW_KEY is processed."
func (s *Stream) Open(record []byte) ([]byte, error) {
	aadLen := 4 + s.seqLen + 2
	if len(record) < aadLen {
		return nil, protocol.NewError(protocol.ErrorKindInvalidRequest, "record: truncated AAD")
	}
	aad := record[:aadLen]
	ciphertext := record[aadLen:]

	sessionID := binary.LittleEndian.Uint32(aad[:4])
	if sessionID != s.sessionID {
		return nil, protocol.NewError(protocol.ErrorKindInvalidRequest, "record: session id mismatch")
	}

	iv := xorSeq(s.keys.IV, s.seq)
	plaintext, err := s.aead.Open(s.suite, s.keys.Key, iv, aad, ciphertext)
	if err == nil {
		s.seq++
		return unwrapPlaintext(plaintext)
	}

	if s.pending != nil {
		pendingIV := xorSeq(s.pending.IV, s.seq)
		plaintext, perr := s.aead.Open(s.suite, s.pending.Key, pendingIV, aad, ciphertext)
		if perr == nil {
			s.keys.Key.Zero()
			s.keys.IV.Zero()
			s.keys = *s.pending
			s.pending = nil
			s.seq++
			return unwrapPlaintext(plaintext)
		}
	}

	return nil, protocol.WrapError(protocol.ErrorKindDecryptError, "record: AEAD open failed", err)
}

func unwrapPlaintext(plaintext []byte) ([]byte, error) {
	if len(plaintext) < 2 {
		return nil, protocol.NewError(protocol.ErrorKindInvalidRequest, "record: truncated plaintext")
	}
	appLen := binary.LittleEndian.Uint16(plaintext[:2])
	if int(appLen) > len(plaintext)-2 {
		return nil, protocol.NewError(protocol.ErrorKindInvalidRequest, "record: declared app data length exceeds plaintext")
	}
	return plaintext[2 : 2+appLen], nil
}

func (s *Stream) buildAAD(ciphertextAndTagLen uint16) []byte {
	aad := make([]byte, 4+s.seqLen+2)
	binary.LittleEndian.PutUint32(aad[:4], s.sessionID)
	putSeq(aad[4:4+s.seqLen], s.seq, s.seqLen)
	binary.LittleEndian.PutUint16(aad[4+s.seqLen:], ciphertextAndTagLen)
	return aad
}

func putSeq(dst []byte, seq uint64, n int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seq)
	copy(dst, buf[:n])
}

// xorSeq XORs the 64-bit big-endian sequence number into the low-order 8
// bytes of iv, per §4.6.
func xorSeq(iv cryptoprovider.Secret, seq uint64) []byte {
	out := append([]byte(nil), iv...)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	offset := len(out) - 8
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < 8 && offset+i < len(out); i++ {
		out[offset+i] ^= seqBytes[i]
	}
	return out
}

// InstallPending sets the next-generation key for the crossover window
// opened by KEY_UPDATE.
func (s *Stream) InstallPending(keys Keys) {
	s.pending = &keys
}

// PromoteOnSend switches the send-direction Stream to its pending key once
// the peer has ACKed KEY_UPDATE; unlike Open's crossover retry, the sender
// commits immediately since it originated the rotation.
func (s *Stream) PromoteOnSend() {
	if s.pending == nil {
		return
	}
	s.keys.Key.Zero()
	s.keys.IV.Zero()
	s.keys = *s.pending
	s.pending = nil
}

// RetirePending zeroizes and drops a pending key that was installed but
// never promoted, e.g. a VERIFY_NEW_KEY that the peer never acknowledged
// before the session was torn down.
func (s *Stream) RetirePending() {
	if s.pending == nil {
		return
	}
	s.pending.Key.Zero()
	s.pending.IV.Zero()
	s.pending = nil
}

// Seq reports the next sequence number this Stream will use.
func (s *Stream) Seq() uint64 { return s.seq }

// Zero overwrites all key material this Stream holds.
func (s *Stream) Zero() {
	s.keys.Key.Zero()
	s.keys.IV.Zero()
	s.RetirePending()
}
