// Package keyschedule derives SPDM's handshake and data-phase secrets per
// DSP0274 §10.8, an HKDF key schedule structurally identical to TLS 1.3's.
package keyschedule

import (
	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/protocol"
)

const (
	labelReqHsData = "req hs data"
	labelRspHsData = "rsp hs data"
	labelReqAppData = "req app data"
	labelRspAppData = "rsp app data"
	labelFinished   = "finished"
	labelKeyUpdate  = "key update"
	labelDerived    = "derived"
	labelExpMaster  = "exp master"
	labelKey        = "key"
	labelIV         = "iv"
)

// Schedule derives and holds every secret a Session Context needs. All
// Secret fields must be zeroized via Schedule.ZeroAll once the session ends.
type Schedule struct {
	hkdf cryptoprovider.HKDFer
	algo protocol.BaseHashAlgo

	HandshakeSecret                cryptoprovider.Secret
	RequestHandshakeSecret         cryptoprovider.Secret
	ResponseHandshakeSecret        cryptoprovider.Secret
	MasterSecret                   cryptoprovider.Secret
	RequestDataSecret               cryptoprovider.Secret
	ResponseDataSecret               cryptoprovider.Secret
	RequestFinishedKey             cryptoprovider.Secret
	ResponseFinishedKey            cryptoprovider.Secret
	ExportMasterSecret             cryptoprovider.Secret
}

// New constructs a key schedule driver for one session's negotiated hash.
func New(hkdf cryptoprovider.HKDFer, algo protocol.BaseHashAlgo) *Schedule {
	return &Schedule{hkdf: hkdf, algo: algo}
}

// DeriveHandshakeSecrets computes handshake_secret from the DH/PSK input
// and the per-direction handshake traffic secrets from TH1, per the §4.5
// table. ikm is the DHE shared secret for a non-PSK session or the raw PSK
// for a PSK session; both extract under a zero salt.
func (s *Schedule) DeriveHandshakeSecrets(ikm, th1 []byte) error {
	hs, err := s.hkdf.Extract(s.algo, nil, ikm)
	if err != nil {
		return err
	}
	s.HandshakeSecret = hs

	reqHS, err := s.hkdf.Expand(s.algo, hs, labelReqHsData+string(th1), hashSize(s.algo))
	if err != nil {
		return err
	}
	s.RequestHandshakeSecret = reqHS

	rspHS, err := s.hkdf.Expand(s.algo, hs, labelRspHsData+string(th1), hashSize(s.algo))
	if err != nil {
		return err
	}
	s.ResponseHandshakeSecret = rspHS

	reqFin, err := s.hkdf.Expand(s.algo, reqHS, labelFinished, hashSize(s.algo))
	if err != nil {
		return err
	}
	s.RequestFinishedKey = reqFin

	rspFin, err := s.hkdf.Expand(s.algo, rspHS, labelFinished, hashSize(s.algo))
	if err != nil {
		return err
	}
	s.ResponseFinishedKey = rspFin

	return nil
}

// DeriveDataSecrets computes master_secret from handshake_secret and the
// per-direction data-phase secrets from TH2, per the §4.5 table.
func (s *Schedule) DeriveDataSecrets(th2 []byte) error {
	salt, err := s.hkdf.Expand(s.algo, s.HandshakeSecret, labelDerived, hashSize(s.algo))
	if err != nil {
		return err
	}
	zero := make([]byte, hashSize(s.algo))
	master, err := s.hkdf.Extract(s.algo, salt, zero)
	if err != nil {
		return err
	}
	s.MasterSecret = master

	reqData, err := s.hkdf.Expand(s.algo, master, labelReqAppData+string(th2), hashSize(s.algo))
	if err != nil {
		return err
	}
	s.RequestDataSecret = reqData

	rspData, err := s.hkdf.Expand(s.algo, master, labelRspAppData+string(th2), hashSize(s.algo))
	if err != nil {
		return err
	}
	s.ResponseDataSecret = rspData

	exportSecret, err := s.hkdf.Expand(s.algo, master, labelExpMaster+string(th2), hashSize(s.algo))
	if err != nil {
		return err
	}
	s.ExportMasterSecret = exportSecret

	return nil
}

// TrafficKeys is the AEAD key + IV pair derived from one direction's
// traffic secret.
type TrafficKeys struct {
	Key cryptoprovider.Secret
	IV  cryptoprovider.Secret
}

// DeriveTrafficKeys expands trafficSecret into the AEAD key and IV for
// suite, via HKDF-Expand with labels "key" and "iv".
func (s *Schedule) DeriveTrafficKeys(trafficSecret cryptoprovider.Secret, suite protocol.AEADCipherSuite) (TrafficKeys, error) {
	keyLen, ivLen := suite.KeyAndIVSize()
	key, err := s.hkdf.Expand(s.algo, trafficSecret, labelKey, keyLen)
	if err != nil {
		return TrafficKeys{}, err
	}
	iv, err := s.hkdf.Expand(s.algo, trafficSecret, labelIV, ivLen)
	if err != nil {
		return TrafficKeys{}, err
	}
	return TrafficKeys{Key: key, IV: iv}, nil
}

// NextSecret derives the next data secret for one direction during
// KEY_UPDATE, per the "key update" row of the §4.5 table.
func (s *Schedule) NextSecret(currentSecret cryptoprovider.Secret) (cryptoprovider.Secret, error) {
	return s.hkdf.Expand(s.algo, currentSecret, labelKeyUpdate, hashSize(s.algo))
}

// ZeroAll overwrites every derived secret in place.
func (s *Schedule) ZeroAll() {
	for _, secret := range []cryptoprovider.Secret{
		s.HandshakeSecret, s.RequestHandshakeSecret, s.ResponseHandshakeSecret,
		s.MasterSecret, s.RequestDataSecret, s.ResponseDataSecret,
		s.RequestFinishedKey, s.ResponseFinishedKey, s.ExportMasterSecret,
	} {
		secret.Zero()
	}
}

func hashSize(algo protocol.BaseHashAlgo) int { return algo.Size() }
