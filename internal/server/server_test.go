package server

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/signal-mock/internal/libsignal"
	"github.com/gwillem/signal-mock/internal/state"
)

// newTestConfig mints fresh certificate material for one test server.
func newTestConfig(t *testing.T) *Config {
	t.Helper()

	trustRoot, err := libsignal.GenerateIdentityKeyPair()
	require.NoError(t, err)
	defer trustRoot.Destroy()
	trustPriv, err := trustRoot.PrivateKey.Serialize()
	require.NoError(t, err)
	trustPub, err := trustRoot.PublicKey.Serialize()
	require.NoError(t, err)

	zk, err := libsignal.GenerateServerSecretParams(randomness32())
	require.NoError(t, err)
	defer zk.Destroy()
	zkSecret, err := zk.Serialize()
	require.NoError(t, err)
	zkPublic, err := zk.PublicParams()
	require.NoError(t, err)

	generic, err := libsignal.GenerateGenericServerSecretParams(randomness32())
	require.NoError(t, err)
	genericPublic, err := generic.PublicParams()
	require.NoError(t, err)

	backup, err := libsignal.GenerateGenericServerSecretParams(randomness32())
	require.NoError(t, err)
	backupPublic, err := backup.PublicParams()
	require.NoError(t, err)

	return &Config{
		TrustRoot:       KeyPair{PrivateKey: trustPriv, PublicKey: trustPub},
		ZKParams:        ZKParams{SecretParams: zkSecret, PublicParams: zkPublic},
		GenericZKParams: ZKParams{SecretParams: generic, PublicParams: genericPublic},
		BackupZKParams:  ZKParams{SecretParams: backup, PublicParams: backupPublic},
		Timeout:         5 * time.Second,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(newTestConfig(t), zerolog.Nop())
	require.NoError(t, err)
	return srv
}

// testIdentity bundles serialized identity key material for test devices.
type testIdentity struct {
	pair    *libsignal.IdentityKeyPair
	public  []byte
	private []byte
}

func newTestIdentity(t *testing.T) *testIdentity {
	t.Helper()
	pair, err := libsignal.GenerateIdentityKeyPair()
	require.NoError(t, err)
	t.Cleanup(pair.Destroy)

	public, err := pair.PublicKey.Serialize()
	require.NoError(t, err)
	private, err := pair.PrivateKey.Serialize()
	require.NoError(t, err)
	return &testIdentity{pair: pair, public: public, private: private}
}

// signedPreKeyEntity mints a signed prekey entity with a valid signature.
func (id *testIdentity) signedPreKeyEntity(t *testing.T, keyID int) *SignedPreKeyEntity {
	t.Helper()
	priv, err := libsignal.GeneratePrivateKey()
	require.NoError(t, err)
	defer priv.Destroy()
	pub, err := priv.PublicKey()
	require.NoError(t, err)
	defer pub.Destroy()
	pubBytes, err := pub.Serialize()
	require.NoError(t, err)
	sig, err := id.pair.PrivateKey.Sign(pubBytes)
	require.NoError(t, err)

	return &SignedPreKeyEntity{
		KeyID:     keyID,
		PublicKey: base64.RawStdEncoding.EncodeToString(pubBytes),
		Signature: base64.RawStdEncoding.EncodeToString(sig),
	}
}

func (id *testIdentity) preKeyEntity(t *testing.T, keyID int) PreKeyEntity {
	t.Helper()
	priv, err := libsignal.GeneratePrivateKey()
	require.NoError(t, err)
	defer priv.Destroy()
	pub, err := priv.PublicKey()
	require.NoError(t, err)
	defer pub.Destroy()
	pubBytes, err := pub.Serialize()
	require.NoError(t, err)

	return PreKeyEntity{KeyID: keyID, PublicKey: base64.RawStdEncoding.EncodeToString(pubBytes)}
}

// registerTestAccount creates an account directly in state with the
// identity key installed, returning the device password.
func registerTestAccount(t *testing.T, srv *Server, id *testIdentity) (*state.Account, *state.Device, string) {
	t.Helper()
	password := "test-password"
	account, device, err := srv.State().Register(state.RegisterOptions{
		Number:            srv.State().NextE164(),
		Password:          password,
		RegistrationID:    1234,
		PNIRegistrationID: 5678,
		FetchesMessages:   true,
	}, false)
	require.NoError(t, err)
	require.NoError(t, srv.State().SetDeviceKeys(account.ACI, device.ID, state.IdentityACI, state.KeyUpload{
		IdentityKey: id.public,
	}))
	return account, device, password
}
