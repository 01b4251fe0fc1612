// Package stdprovider implements cryptoprovider.Provider on top of the
// standard library plus golang.org/x/crypto, the same algorithm surface the
// reference libspdm backs with mbedtls/openssl.
package stdprovider

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
	"hash"
	"math/big"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
)

// Provider is the default, non-mock cryptoprovider.Provider.
type Provider struct{}

func New() *Provider { return &Provider{} }

func newHash(algo protocol.BaseHashAlgo) (func() hash.Hash, error) {
	switch algo {
	case protocol.HashSHA256:
		return sha256.New, nil
	case protocol.HashSHA384:
		return sha512.New384, nil
	case protocol.HashSHA512:
		return sha512.New, nil
	case protocol.HashSHA3_256:
		return sha3.New256, nil
	case protocol.HashSHA3_384:
		return sha3.New384, nil
	case protocol.HashSHA3_512:
		return sha3.New512, nil
	default:
		return nil, fmt.Errorf("stdprovider: unsupported hash algorithm %s", algo)
	}
}

type digester struct {
	newFn func() hash.Hash
	h     hash.Hash
}

func (d *digester) Write(p []byte) { d.h.Write(p) }
func (d *digester) Sum() []byte    { return d.h.Sum(nil) }
func (d *digester) Reset()         { d.h = d.newFn() }

func (p *Provider) NewDigester(algo protocol.BaseHashAlgo) (cryptoprovider.Digester, error) {
	fn, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	return &digester{newFn: fn, h: fn()}, nil
}

func (p *Provider) Hash(algo protocol.BaseHashAlgo, data []byte) ([]byte, error) {
	fn, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	h := fn()
	h.Write(data)
	return h.Sum(nil), nil
}

func (p *Provider) HMAC(algo protocol.BaseHashAlgo, key, data []byte) ([]byte, error) {
	fn, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(fn, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Extract implements HKDF-Extract directly (golang.org/x/crypto/hkdf only
// exposes the combined Reader); the key schedule needs the raw PRK to
// snapshot as handshake_secret/master_secret.
func (p *Provider) Extract(algo protocol.BaseHashAlgo, salt, ikm []byte) (cryptoprovider.Secret, error) {
	fn, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		salt = make([]byte, fn().Size())
	}
	mac := hmac.New(fn, salt)
	mac.Write(ikm)
	return cryptoprovider.Secret(mac.Sum(nil)), nil
}

func (p *Provider) Expand(algo protocol.BaseHashAlgo, prk cryptoprovider.Secret, label string, length int) (cryptoprovider.Secret, error) {
	fn, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	r := hkdf.Expand(fn, []byte(prk), []byte(label))
	out := make([]byte, length)
	if _, err := r.Read(out); err != nil {
		return nil, fmt.Errorf("stdprovider: hkdf expand: %w", err)
	}
	return cryptoprovider.Secret(out), nil
}

func aeadFor(suite protocol.AEADCipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case protocol.AEADAes128Gcm, protocol.AEADAes256Gcm:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case protocol.AEADChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("stdprovider: unsupported AEAD suite %s", suite)
	}
}

func (p *Provider) Seal(suite protocol.AEADCipherSuite, key, iv, aad, plaintext []byte) ([]byte, error) {
	a, err := aeadFor(suite, key)
	if err != nil {
		return nil, err
	}
	return a.Seal(nil, iv, plaintext, aad), nil
}

func (p *Provider) Open(suite protocol.AEADCipherSuite, key, iv, aad, ciphertext []byte) ([]byte, error) {
	a, err := aeadFor(suite, key)
	if err != nil {
		return nil, err
	}
	return a.Open(nil, iv, ciphertext, aad)
}

// ffdheGroup holds a DSP0274 Annex safe prime and generator. golang.org/x
// exposes no FFDHE parameter tables, so these are defined directly against
// math/big; see DESIGN.md for why no pack dependency covers this.
type ffdheGroup struct {
	p *big.Int
	g *big.Int
	n int // byte length of the modulus
}

// ffdhe2048Hex is the RFC 7919 ffdhe2048 prime, also referenced by
// DSP0274 Annex F for the FFDHE 2048 group.
const ffdhe2048Hex = "FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF1D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3EF97D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD65612433F51F5F066ED0856365553DED1AF3B557135E7F57C935984F0C70E0E68B77E2A689DAF3EFE8721DF158A136ADE73530ACCA4F483A797ABC0AB182B324FB61D108A94BB2C8E3FBB96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD28342F619172FE9CE98583FF8E4F1232EEF28183C3FE3B1B4C6FAD733BB5FCBC2EC22005C58EF1837D1683B2C6F34A26C1B2EFFA886B423861285C97FFFFFFFFFFFFFFFF"

func ffdheParams(group protocol.DHEGroup) (*ffdheGroup, error) {
	switch group {
	case protocol.DHEFfdhe2048:
		p := new(big.Int)
		p.SetString(ffdhe2048Hex, 16)
		return &ffdheGroup{p: p, g: big.NewInt(2), n: 256}, nil
	default:
		return nil, fmt.Errorf("stdprovider: FFDHE group %s not provisioned", group)
	}
}

func (p *Provider) GenerateKeyPair(group protocol.DHEGroup) ([]byte, any, error) {
	if group.IsECDHE() {
		curve, err := ecdhCurve(group)
		if err != nil {
			return nil, nil, err
		}
		priv, err := curve.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return priv.PublicKey().Bytes(), priv, nil
	}
	params, err := ffdheParams(group)
	if err != nil {
		return nil, nil, err
	}
	priv, err := rand.Int(rand.Reader, params.p)
	if err != nil {
		return nil, nil, err
	}
	pub := new(big.Int).Exp(params.g, priv, params.p)
	return leftPad(pub.Bytes(), params.n), priv, nil
}

func (p *Provider) ComputeSecret(group protocol.DHEGroup, private any, peerPublic []byte) (cryptoprovider.Secret, error) {
	if group.IsECDHE() {
		curve, err := ecdhCurve(group)
		if err != nil {
			return nil, err
		}
		priv, ok := private.(*ecdh.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("stdprovider: private handle is not an ECDH key")
		}
		peerKey, err := curve.NewPublicKey(peerPublic)
		if err != nil {
			return nil, err
		}
		secret, err := priv.ECDH(peerKey)
		if err != nil {
			return nil, err
		}
		return cryptoprovider.Secret(secret), nil
	}
	params, err := ffdheParams(group)
	if err != nil {
		return nil, err
	}
	priv, ok := private.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("stdprovider: private handle is not an FFDHE exponent")
	}
	peer := new(big.Int).SetBytes(peerPublic)
	secret := new(big.Int).Exp(peer, priv, params.p)
	return cryptoprovider.Secret(leftPad(secret.Bytes(), params.n)), nil
}

func ecdhCurve(group protocol.DHEGroup) (ecdh.Curve, error) {
	switch group {
	case protocol.DHESecp256r1:
		return ecdh.P256(), nil
	case protocol.DHESecp384r1:
		return ecdh.P384(), nil
	case protocol.DHESecp521r1:
		return ecdh.P521(), nil
	default:
		return nil, fmt.Errorf("stdprovider: DHE group %s is not elliptic-curve", group)
	}
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func (p *Provider) Sign(algo protocol.BaseAsymAlgo, privateKey any, digest []byte) ([]byte, error) {
	switch algo {
	case protocol.AsymECDSAP256, protocol.AsymECDSAP384, protocol.AsymECDSAP521:
		key, ok := privateKey.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("stdprovider: expected *ecdsa.PrivateKey for %s", algo)
		}
		return ecdsa.SignASN1(rand.Reader, key, digest)
	case protocol.AsymRSASSA2048:
		key, ok := privateKey.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("stdprovider: expected *rsa.PrivateKey for %s", algo)
		}
		return rsa.SignPKCS1v15(rand.Reader, key, hashFuncFor(digest), digest)
	case protocol.AsymRSAPSS2048:
		key, ok := privateKey.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("stdprovider: expected *rsa.PrivateKey for %s", algo)
		}
		return rsa.SignPSS(rand.Reader, key, hashFuncFor(digest), digest, nil)
	default:
		return nil, fmt.Errorf("stdprovider: unsupported signature algorithm %s", algo)
	}
}

func (p *Provider) Verify(algo protocol.BaseAsymAlgo, publicKey any, digest, sig []byte) error {
	switch algo {
	case protocol.AsymECDSAP256, protocol.AsymECDSAP384, protocol.AsymECDSAP521:
		key, ok := publicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("stdprovider: expected *ecdsa.PublicKey for %s", algo)
		}
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return fmt.Errorf("stdprovider: ecdsa signature verification failed")
		}
		return nil
	case protocol.AsymRSASSA2048:
		key, ok := publicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("stdprovider: expected *rsa.PublicKey for %s", algo)
		}
		return rsa.VerifyPKCS1v15(key, hashFuncFor(digest), digest, sig)
	case protocol.AsymRSAPSS2048:
		key, ok := publicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("stdprovider: expected *rsa.PublicKey for %s", algo)
		}
		return rsa.VerifyPSS(key, hashFuncFor(digest), digest, sig, nil)
	default:
		return fmt.Errorf("stdprovider: unsupported signature algorithm %s", algo)
	}
}

// hashFuncFor infers the crypto.Hash from a digest's length, since the
// Signer interface is handed a raw digest rather than the BaseHashAlgo that
// produced it.
func hashFuncFor(digest []byte) crypto.Hash {
	switch len(digest) {
	case 32:
		return crypto.SHA256
	case 48:
		return crypto.SHA384
	case 64:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

func (p *Provider) Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *Provider) ParseLeaf(chain []byte) (any, error) {
	certs, err := x509.ParseCertificates(chain)
	if err != nil {
		return nil, fmt.Errorf("stdprovider: parse cert chain: %w", err)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("stdprovider: empty certificate chain")
	}
	leaf := certs[0]
	switch leaf.PublicKey.(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
		return leaf.PublicKey, nil
	default:
		return nil, fmt.Errorf("stdprovider: unsupported leaf public key type %T", leaf.PublicKey)
	}
}

func (p *Provider) VerifyChain(chain []byte, trustedRootDigests [][]byte, rootHash protocol.BaseHashAlgo) error {
	certs, err := x509.ParseCertificates(chain)
	if err != nil {
		return fmt.Errorf("stdprovider: parse cert chain: %w", err)
	}
	if len(certs) == 0 {
		return fmt.Errorf("stdprovider: empty certificate chain")
	}
	root := certs[len(certs)-1]
	digest, err := p.Hash(rootHash, root.Raw)
	if err != nil {
		return err
	}
	matched := false
	for _, trusted := range trustedRootDigests {
		if hmac.Equal(digest, trusted) {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("stdprovider: root certificate digest not in trust store")
	}
	pool := x509.NewCertPool()
	pool.AddCert(root)
	opts := x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}
	if len(certs) > 2 {
		inter := x509.NewCertPool()
		for _, intermediate := range certs[1 : len(certs)-1] {
			inter.AddCert(intermediate)
		}
		opts.Intermediates = inter
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return fmt.Errorf("stdprovider: chain verification: %w", err)
	}
	return nil
}
