package protocol

import "fmt"

// BaseHashAlgo identifies the transcript/measurement-independent hash used
// for signatures and the key schedule.
type BaseHashAlgo uint32

const (
	HashSHA256 BaseHashAlgo = 1 << iota
	HashSHA384
	HashSHA512
	HashSHA3_256
	HashSHA3_384
	HashSHA3_512
)

func (h BaseHashAlgo) String() string {
	switch h {
	case HashSHA256:
		return "sha256"
	case HashSHA384:
		return "sha384"
	case HashSHA512:
		return "sha512"
	case HashSHA3_256:
		return "sha3-256"
	case HashSHA3_384:
		return "sha3-384"
	case HashSHA3_512:
		return "sha3-512"
	default:
		return "unknown-hash"
	}
}

// Size returns the digest size in bytes for the algorithm.
func (h BaseHashAlgo) Size() int {
	switch h {
	case HashSHA256, HashSHA3_256:
		return 32
	case HashSHA384, HashSHA3_384:
		return 48
	case HashSHA512, HashSHA3_512:
		return 64
	default:
		return 0
	}
}

// BaseAsymAlgo identifies the signature algorithm used for CHALLENGE_AUTH,
// MEASUREMENTS, and KEY_EXCHANGE_RSP signatures.
type BaseAsymAlgo uint32

const (
	AsymRSASSA2048      BaseAsymAlgo = 1 << iota
	AsymRSAPSS2048
	AsymECDSAP256
	AsymECDSAP384
	AsymECDSAP521
	AsymRegistryPQC // placeholder registry ID for a post-quantum signature; see §1 non-goals
)

func (a BaseAsymAlgo) String() string {
	switch a {
	case AsymRSASSA2048:
		return "rsassa2048"
	case AsymRSAPSS2048:
		return "rsapss2048"
	case AsymECDSAP256:
		return "ecdsa-p256"
	case AsymECDSAP384:
		return "ecdsa-p384"
	case AsymECDSAP521:
		return "ecdsa-p521"
	case AsymRegistryPQC:
		return "pqc-registry-id"
	default:
		return "unknown-asym"
	}
}

// DHEGroup identifies the Diffie-Hellman group used for KEY_EXCHANGE.
type DHEGroup uint32

const (
	DHEFfdhe2048 DHEGroup = 1 << iota
	DHEFfdhe3072
	DHEFfdhe4096
	DHESecp256r1
	DHESecp384r1
	DHESecp521r1
)

func (d DHEGroup) String() string {
	switch d {
	case DHEFfdhe2048:
		return "ffdhe2048"
	case DHEFfdhe3072:
		return "ffdhe3072"
	case DHEFfdhe4096:
		return "ffdhe4096"
	case DHESecp256r1:
		return "secp256r1"
	case DHESecp384r1:
		return "secp384r1"
	case DHESecp521r1:
		return "secp521r1"
	default:
		return "unknown-dhe"
	}
}

// IsECDHE reports whether the group is elliptic-curve based rather than a
// finite-field (FFDHE) group.
func (d DHEGroup) IsECDHE() bool {
	return d == DHESecp256r1 || d == DHESecp384r1 || d == DHESecp521r1
}

// AEADCipherSuite identifies the AEAD used by the secured record layer.
type AEADCipherSuite uint16

const (
	AEADAes128Gcm AEADCipherSuite = 1 << iota
	AEADAes256Gcm
	AEADChaCha20Poly1305
)

func (a AEADCipherSuite) String() string {
	switch a {
	case AEADAes128Gcm:
		return "aes-128-gcm"
	case AEADAes256Gcm:
		return "aes-256-gcm"
	case AEADChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "unknown-aead"
	}
}

// KeyAndIVSize returns the raw AEAD key size and IV (nonce) size in bytes.
func (a AEADCipherSuite) KeyAndIVSize() (keyLen, ivLen int) {
	switch a {
	case AEADAes128Gcm:
		return 16, 12
	case AEADAes256Gcm:
		return 32, 12
	case AEADChaCha20Poly1305:
		return 32, 12
	default:
		return 0, 0
	}
}

// TagSize returns the AEAD authentication tag size in bytes; all registered
// suites use a 16-byte tag.
func (AEADCipherSuite) TagSize() int { return 16 }

// KeyScheduleAlgo identifies the HKDF hash used to derive the key schedule;
// it is always equal to the negotiated BaseHashAlgo in this implementation,
// but is named separately per DSP0274's algorithm table.
type KeyScheduleAlgo uint8

const KeyScheduleSPDM KeyScheduleAlgo = 1

// AlgorithmSuite is the fully negotiated, exactly-one-of-each set chosen
// during NEGOTIATE_ALGORITHMS.
type AlgorithmSuite struct {
	BaseHash          BaseHashAlgo
	BaseAsym          BaseAsymAlgo
	MeasurementHash   BaseHashAlgo
	DHEGroup          DHEGroup
	AEADCipher        AEADCipherSuite
	KeySchedule       KeyScheduleAlgo
}

func (s AlgorithmSuite) String() string {
	return fmt.Sprintf("AlgorithmSuite{hash=%s asym=%s measHash=%s dhe=%s aead=%s}",
		s.BaseHash, s.BaseAsym, s.MeasurementHash, s.DHEGroup, s.AEADCipher)
}

// Priority is an ordered preference list used by a Responder to tie-break
// within the intersection of locally- and peer-supported algorithms for one
// category. The first entry present in the intersection wins.
type Priority[T ~uint32 | ~uint16 | ~uint8] []T

// Choose returns the highest-priority member of p that is present in both
// local and peer bitmasks, or ok=false if the intersection is empty.
func Choose[T ~uint32 | ~uint16 | ~uint8](p Priority[T], local, peer T) (chosen T, ok bool) {
	intersection := local & peer
	for _, candidate := range p {
		if intersection&candidate != 0 {
			return candidate, true
		}
	}
	return chosen, false
}
