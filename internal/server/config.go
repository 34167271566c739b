package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds every harness-blocking wait.
const DefaultTimeout = 60 * time.Second

// KeyPair holds one serialized curve keypair, base64-encoded on disk.
type KeyPair struct {
	PrivateKey []byte
	PublicKey  []byte
}

// ZKParams is one serialized zkgroup param bundle.
type ZKParams struct {
	SecretParams []byte
	PublicParams []byte
}

// Config is the process-wide immutable material the server is built from.
type Config struct {
	// TrustRoot signs server certificates for sealed sender.
	TrustRoot KeyPair
	// ZKParams back group and profile-key credentials.
	ZKParams ZKParams
	// GenericZKParams back call link credentials.
	GenericZKParams ZKParams
	// BackupZKParams back backup credentials.
	BackupZKParams ZKParams
	// HTTPSKeyPath and HTTPSCertPath configure the TLS listener. Empty
	// paths run the listener in plain HTTP (in-process tests).
	HTTPSKeyPath  string
	HTTPSCertPath string
	// Timeout bounds queue waits and provisioning rendezvous.
	Timeout time.Duration
}

type trustRootFile struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

type zkParamsFile struct {
	ZKParams        zkParamsEntry `json:"zkParams"`
	GenericZKParams zkParamsEntry `json:"genericZkParams"`
	BackupZKParams  zkParamsEntry `json:"backupZkParams"`
}

type zkParamsEntry struct {
	SecretParams string `json:"secretParams"`
	PublicParams string `json:"publicParams"`
}

// LoadConfig reads certs/trust-root.json and certs/zk-params.json from
// certsDir, the two artifacts written by signal-mock-keygen.
func LoadConfig(certsDir string) (*Config, error) {
	var trust trustRootFile
	if err := readJSON(filepath.Join(certsDir, "trust-root.json"), &trust); err != nil {
		return nil, err
	}
	var zk zkParamsFile
	if err := readJSON(filepath.Join(certsDir, "zk-params.json"), &zk); err != nil {
		return nil, err
	}

	cfg := &Config{Timeout: DefaultTimeout}
	var err error
	if cfg.TrustRoot.PrivateKey, err = decode64(trust.PrivateKey); err != nil {
		return nil, fmt.Errorf("trust root private key: %w", err)
	}
	if cfg.TrustRoot.PublicKey, err = decode64(trust.PublicKey); err != nil {
		return nil, fmt.Errorf("trust root public key: %w", err)
	}
	if cfg.ZKParams, err = decodeParams(zk.ZKParams); err != nil {
		return nil, fmt.Errorf("zk params: %w", err)
	}
	if cfg.GenericZKParams, err = decodeParams(zk.GenericZKParams); err != nil {
		return nil, fmt.Errorf("generic zk params: %w", err)
	}
	if cfg.BackupZKParams, err = decodeParams(zk.BackupZKParams); err != nil {
		return nil, fmt.Errorf("backup zk params: %w", err)
	}
	return cfg, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func decodeParams(e zkParamsEntry) (ZKParams, error) {
	secret, err := decode64(e.SecretParams)
	if err != nil {
		return ZKParams{}, err
	}
	public, err := decode64(e.PublicParams)
	if err != nil {
		return ZKParams{}, err
	}
	return ZKParams{SecretParams: secret, PublicParams: public}, nil
}

func decode64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
