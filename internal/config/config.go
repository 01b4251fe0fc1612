// Package config loads spdm-endpoint's configuration: flags bound through
// spf13/viper, an optional YAML file, and the algorithm-priority / cert-slot
// / PSK sections decoded with mitchellh/mapstructure the same way the
// teacher decodes its variable-shape service-info operations — first into a
// generic map, then, once the selector field is known, into the concrete
// parameter type it names.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/dmtf-spdm/go-spdm/protocol"
)

// LogConfig controls the slog level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DBConfig selects the audit database backend.
type DBConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// TransportConfig selects the transport binding a CLI host serves or dials.
type TransportConfig struct {
	Mode    string `mapstructure:"mode"` // "loopback" or "tcp"
	Address string `mapstructure:"address"`
}

// KeySourceKind names how a CertSlotConfig's private key material is
// supplied; UnmarshalKeySource decodes RawKeySource according to it.
type KeySourceKind string

const (
	KeySourceFile KeySourceKind = "file"
	KeySourceEnv  KeySourceKind = "env"
)

// FileKeyParams names a PEM-encoded private key on disk.
type FileKeyParams struct {
	Path string `mapstructure:"path"`
}

// EnvKeyParams names an environment variable holding a PEM-encoded key, for
// deployments that inject secrets as environment rather than files.
type EnvKeyParams struct {
	Var string `mapstructure:"var"`
}

// CertSlotConfig describes one certificate-chain slot (0..7) and, for slots
// this endpoint signs with, where to load the matching private key from.
type CertSlotConfig struct {
	Slot         uint8                  `mapstructure:"slot"`
	CertPath     string                 `mapstructure:"cert"`
	KeySource    KeySourceKind          `mapstructure:"key_source"`
	RawKeySource map[string]interface{} `mapstructure:"key_params"`

	FileKey *FileKeyParams
	EnvKey  *EnvKeyParams
}

// UnmarshalKeySource decodes RawKeySource into the concrete params type
// KeySource selects, mirroring the teacher's two-phase FSIM param decode:
// the selector field must be known before the shape of its parameters is.
func (c *CertSlotConfig) UnmarshalKeySource() error {
	if c.KeySource == "" {
		return nil // a verify-only slot (no local signing key) needs none
	}
	if c.RawKeySource == nil {
		return fmt.Errorf("config: cert slot %d: key_params required for key_source %q", c.Slot, c.KeySource)
	}
	switch c.KeySource {
	case KeySourceFile:
		var p FileKeyParams
		if err := mapstructure.Decode(c.RawKeySource, &p); err != nil {
			return fmt.Errorf("config: cert slot %d: decode file key params: %w", c.Slot, err)
		}
		c.FileKey = &p
	case KeySourceEnv:
		var p EnvKeyParams
		if err := mapstructure.Decode(c.RawKeySource, &p); err != nil {
			return fmt.Errorf("config: cert slot %d: decode env key params: %w", c.Slot, err)
		}
		c.EnvKey = &p
	default:
		return fmt.Errorf("config: cert slot %d: unsupported key_source %q", c.Slot, c.KeySource)
	}
	c.RawKeySource = nil
	return nil
}

// PSKConfig names one pre-shared key by hint, as hex on disk or in the file.
type PSKConfig struct {
	Hint   string `mapstructure:"hint"`
	KeyHex string `mapstructure:"key_hex"`
}

// AlgorithmConfig lists this endpoint's priority order for each negotiated
// category, highest priority first, by name (e.g. "sha384", "ecdsa_p384",
// "secp384r1", "aes_256_gcm").
type AlgorithmConfig struct {
	Hash            []string `mapstructure:"hash"`
	Asym            []string `mapstructure:"asym"`
	DHE             []string `mapstructure:"dhe"`
	AEAD            []string `mapstructure:"aead"`
	MeasurementHash []string `mapstructure:"measurement_hash"`
}

// Config is the full decoded configuration for a spdm-endpoint subcommand.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Transport  TransportConfig  `mapstructure:"transport"`
	CertSlots  []CertSlotConfig `mapstructure:"cert_slots"`
	PSKs       []PSKConfig      `mapstructure:"psks"`
	Algorithms AlgorithmConfig  `mapstructure:"algorithms"`
}

// Load unmarshals v (after flags are bound and an optional --config file is
// read) into a Config and resolves each cert slot's key source.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	for i := range cfg.CertSlots {
		if err := cfg.CertSlots[i].UnmarshalKeySource(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

var hashNames = map[string]protocol.BaseHashAlgo{
	"sha256":   protocol.HashSHA256,
	"sha384":   protocol.HashSHA384,
	"sha512":   protocol.HashSHA512,
	"sha3_256": protocol.HashSHA3_256,
	"sha3_384": protocol.HashSHA3_384,
	"sha3_512": protocol.HashSHA3_512,
}

var asymNames = map[string]protocol.BaseAsymAlgo{
	"ecdsa_p256":  protocol.AsymECDSAP256,
	"ecdsa_p384":  protocol.AsymECDSAP384,
	"ecdsa_p521":  protocol.AsymECDSAP521,
	"rsassa_2048": protocol.AsymRSASSA2048,
	"rsapss_2048": protocol.AsymRSAPSS2048,
}

var dheNames = map[string]protocol.DHEGroup{
	"secp256r1": protocol.DHESecp256r1,
	"secp384r1": protocol.DHESecp384r1,
	"secp521r1": protocol.DHESecp521r1,
	"ffdhe2048": protocol.DHEFfdhe2048,
	"ffdhe3072": protocol.DHEFfdhe3072,
	"ffdhe4096": protocol.DHEFfdhe4096,
}

var aeadNames = map[string]protocol.AEADCipherSuite{
	"aes_128_gcm":       protocol.AEADAes128Gcm,
	"aes_256_gcm":       protocol.AEADAes256Gcm,
	"chacha20_poly1305": protocol.AEADChaCha20Poly1305,
}

// Priorities converts the named priority lists into the protocol package's
// Priority[T] tie-break orders. Unknown names are skipped rather than
// rejected, so a config shared across endpoint versions degrades instead of
// failing closed when it names an algorithm this build has not registered.
func (a AlgorithmConfig) Priorities() (out struct {
	Hash            protocol.Priority[protocol.BaseHashAlgo]
	Asym            protocol.Priority[protocol.BaseAsymAlgo]
	DHE             protocol.Priority[protocol.DHEGroup]
	AEAD            protocol.Priority[protocol.AEADCipherSuite]
	MeasurementHash protocol.Priority[protocol.BaseHashAlgo]
}) {
	for _, name := range a.Hash {
		if v, ok := hashNames[name]; ok {
			out.Hash = append(out.Hash, v)
		}
	}
	for _, name := range a.Asym {
		if v, ok := asymNames[name]; ok {
			out.Asym = append(out.Asym, v)
		}
	}
	for _, name := range a.DHE {
		if v, ok := dheNames[name]; ok {
			out.DHE = append(out.DHE, v)
		}
	}
	for _, name := range a.AEAD {
		if v, ok := aeadNames[name]; ok {
			out.AEAD = append(out.AEAD, v)
		}
	}
	for _, name := range a.MeasurementHash {
		if v, ok := hashNames[name]; ok {
			out.MeasurementHash = append(out.MeasurementHash, v)
		}
	}
	return out
}
