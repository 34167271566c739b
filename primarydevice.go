package signalmock

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	mrand "math/rand"

	"github.com/google/uuid"

	"github.com/gwillem/signal-mock/internal/libsignal"
	"github.com/gwillem/signal-mock/internal/signalcrypto"
	"github.com/gwillem/signal-mock/internal/state"
)

// PrimaryDeviceOptions configures a harness-created primary device.
type PrimaryDeviceOptions struct {
	ProfileName string
	Number      string // empty: allocate
}

// PrimaryDevice is the harness's handle to a registered primary: the ids
// plus the identity material a real primary would hold. It refers to
// server state by id only.
type PrimaryDevice struct {
	ACI        uuid.UUID
	PNI        uuid.UUID
	Number     string
	DeviceID   int
	Password   string
	ProfileKey []byte
	MasterKey  []byte

	ACIIdentityPublic  []byte
	ACIIdentityPrivate []byte
	PNIIdentityPublic  []byte
	PNIIdentityPrivate []byte

	server *Server
}

// CreatePrimaryDevice registers a fresh account with its primary device
// directly in server state, generating identity keys, a profile key, and
// device credentials the way a registering client would.
func (s *Server) CreatePrimaryDevice(opts PrimaryDeviceOptions) (*PrimaryDevice, error) {
	number := opts.Number
	if number == "" {
		number = s.State().NextE164()
	}

	aciIdentity, err := generateIdentityKeys()
	if err != nil {
		return nil, fmt.Errorf("primary device: %w", err)
	}
	pniIdentity, err := generateIdentityKeys()
	if err != nil {
		return nil, fmt.Errorf("primary device: %w", err)
	}

	profileKey := randomBytes(32)
	masterKey := randomBytes(32)
	accessKey, err := signalcrypto.DeriveAccessKey(profileKey)
	if err != nil {
		return nil, fmt.Errorf("primary device: %w", err)
	}

	password := generatePassword()
	account, device, err := s.State().Register(state.RegisterOptions{
		Number:            number,
		ProfileKey:        profileKey,
		Password:          password,
		RegistrationID:    generateRegistrationID(),
		PNIRegistrationID: generateRegistrationID(),
		DeviceName:        opts.ProfileName,
		FetchesMessages:   true,

		UnidentifiedAccessKey: accessKey,
	}, false)
	if err != nil {
		return nil, fmt.Errorf("primary device: %w", err)
	}

	for _, flavor := range []struct {
		identity state.Identity
		keys     identityKeys
	}{
		{state.IdentityACI, aciIdentity},
		{state.IdentityPNI, pniIdentity},
	} {
		err := s.State().SetDeviceKeys(account.ACI, device.ID, flavor.identity, state.KeyUpload{
			IdentityKey: flavor.keys.public,
		})
		if err != nil {
			return nil, fmt.Errorf("primary device: %w", err)
		}
	}

	return &PrimaryDevice{
		ACI:        account.ACI,
		PNI:        account.PNI,
		Number:     account.Number,
		DeviceID:   device.ID,
		Password:   password,
		ProfileKey: profileKey,
		MasterKey:  masterKey,

		ACIIdentityPublic:  aciIdentity.public,
		ACIIdentityPrivate: aciIdentity.private,
		PNIIdentityPublic:  pniIdentity.public,
		PNIIdentityPrivate: pniIdentity.private,

		server: s,
	}, nil
}

// ProvisionInfo packages the primary's identity material for completing a
// pending provision.
func (p *PrimaryDevice) ProvisionInfo() *PrimaryInfo {
	return &PrimaryInfo{
		ACI:        p.ACI,
		PNI:        p.PNI,
		Number:     p.Number,
		ProfileKey: p.ProfileKey,
		MasterKey:  p.MasterKey,

		ACIIdentityPublic:  p.ACIIdentityPublic,
		ACIIdentityPrivate: p.ACIIdentityPrivate,
		PNIIdentityPublic:  p.PNIIdentityPublic,
		PNIIdentityPrivate: p.PNIIdentityPrivate,
	}
}

// AuthName is the device's HTTP Basic username.
func (p *PrimaryDevice) AuthName() string {
	return fmt.Sprintf("%s.%d", p.ACI, p.DeviceID)
}

// CreateSecondaryDevice links a secondary device to a primary directly in
// server state, bypassing the provisioning dance. Useful for tests that
// need a multi-device account without running a linking client.
func (s *Server) CreateSecondaryDevice(primary *PrimaryDevice) (*state.Device, error) {
	password := generatePassword()
	device, err := s.State().LinkDevice(primary.ACI, state.LinkDeviceOptions{
		Password:          password,
		RegistrationID:    generateRegistrationID(),
		PNIRegistrationID: generateRegistrationID(),
		FetchesMessages:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("secondary device: %w", err)
	}

	for _, flavor := range []struct {
		identity state.Identity
		public   []byte
	}{
		{state.IdentityACI, primary.ACIIdentityPublic},
		{state.IdentityPNI, primary.PNIIdentityPublic},
	} {
		err := s.State().SetDeviceKeys(primary.ACI, device.ID, flavor.identity, state.KeyUpload{
			IdentityKey: flavor.public,
		})
		if err != nil {
			return nil, fmt.Errorf("secondary device: %w", err)
		}
	}
	return device, nil
}

type identityKeys struct {
	public  []byte
	private []byte
}

func generateIdentityKeys() (identityKeys, error) {
	pair, err := libsignal.GenerateIdentityKeyPair()
	if err != nil {
		return identityKeys{}, err
	}
	defer pair.Destroy()

	public, err := pair.PublicKey.Serialize()
	if err != nil {
		return identityKeys{}, err
	}
	private, err := pair.PrivateKey.Serialize()
	if err != nil {
		return identityKeys{}, err
	}
	return identityKeys{public: public, private: private}, nil
}

// generateRegistrationID picks a 14-bit non-zero registration id.
func generateRegistrationID() int {
	return mrand.Intn(1<<14-1) + 1
}

// generatePassword generates a random 24-byte password, base64url-encoded.
func generatePassword() string {
	return base64.RawURLEncoding.EncodeToString(randomBytes(24))
}

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	rand.Read(buf)
	return buf
}
