// Command signal-mock-keygen writes the certificate material the mock
// server loads at startup: certs/trust-root.json (sealed-sender trust root
// keypair) and certs/zk-params.json (the three zkgroup param bundles).
// Run once before first use.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/gwillem/signal-mock/internal/libsignal"
)

type opts struct {
	Out string `short:"o" long:"out" default:"certs" description:"Output directory"`
}

func main() {
	var o opts
	if _, err := flags.Parse(&o); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if err := run(o.Out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	trustRoot, err := libsignal.GenerateIdentityKeyPair()
	if err != nil {
		return fmt.Errorf("generate trust root: %w", err)
	}
	defer trustRoot.Destroy()

	priv, err := trustRoot.PrivateKey.Serialize()
	if err != nil {
		return err
	}
	pub, err := trustRoot.PublicKey.Serialize()
	if err != nil {
		return err
	}
	err = writeJSON(filepath.Join(dir, "trust-root.json"), map[string]string{
		"privateKey": base64.StdEncoding.EncodeToString(priv),
		"publicKey":  base64.StdEncoding.EncodeToString(pub),
	})
	if err != nil {
		return err
	}

	zk, err := generateServerParams()
	if err != nil {
		return err
	}
	generic, err := generateGenericParams()
	if err != nil {
		return err
	}
	backup, err := generateGenericParams()
	if err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "zk-params.json"), map[string]any{
		"zkParams":        zk,
		"genericZkParams": generic,
		"backupZkParams":  backup,
	})
}

type paramsEntry struct {
	SecretParams string `json:"secretParams"`
	PublicParams string `json:"publicParams"`
}

func generateServerParams() (paramsEntry, error) {
	params, err := libsignal.GenerateServerSecretParams(randomness())
	if err != nil {
		return paramsEntry{}, err
	}
	defer params.Destroy()

	secret, err := params.Serialize()
	if err != nil {
		return paramsEntry{}, err
	}
	public, err := params.PublicParams()
	if err != nil {
		return paramsEntry{}, err
	}
	return paramsEntry{
		SecretParams: base64.StdEncoding.EncodeToString(secret),
		PublicParams: base64.StdEncoding.EncodeToString(public),
	}, nil
}

func generateGenericParams() (paramsEntry, error) {
	params, err := libsignal.GenerateGenericServerSecretParams(randomness())
	if err != nil {
		return paramsEntry{}, err
	}
	public, err := params.PublicParams()
	if err != nil {
		return paramsEntry{}, err
	}
	return paramsEntry{
		SecretParams: base64.StdEncoding.EncodeToString(params),
		PublicParams: base64.StdEncoding.EncodeToString(public),
	}, nil
}

func randomness() [32]byte {
	var out [32]byte
	rand.Read(out[:])
	return out
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return err
	}
	fmt.Println("wrote", path)
	return nil
}
