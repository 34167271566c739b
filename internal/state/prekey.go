package state

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// KeyUpload is a validated PUT /v2/keys payload. Signature verification
// happens above this layer; the store only enforces shape and bookkeeping.
type KeyUpload struct {
	IdentityKey     []byte
	SignedPreKey    *SignedPreKey
	PqLastResortKey *KyberPreKey
	OneTimePreKeys  []*PreKey
	OneTimePqKeys   []*KyberPreKey
}

// SetDeviceKeys installs uploaded key material on one identity flavor of a
// device. Signed and last-resort keys are replaced if present; one-time
// keys append to the existing queues.
func (s *State) SetDeviceKeys(aci uuid.UUID, deviceID int, identity Identity, up KeyUpload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return ErrNoAccount
	}
	device, ok := account.Devices[deviceID]
	if !ok {
		return ErrNoDevice
	}

	ks := device.Keys[identity]
	if ks == nil {
		ks = &KeySet{}
		device.Keys[identity] = ks
	}

	if len(up.IdentityKey) > 0 {
		if len(up.IdentityKey) != 33 {
			return fmt.Errorf("identity key must be 33 bytes, got %d", len(up.IdentityKey))
		}
		ks.IdentityKey = up.IdentityKey
	}
	if up.SignedPreKey != nil {
		ks.SignedPreKey = up.SignedPreKey
	}
	if up.PqLastResortKey != nil {
		ks.PqLastResortKey = up.PqLastResortKey
	}
	ks.OneTimePreKeys = append(ks.OneTimePreKeys, up.OneTimePreKeys...)
	ks.OneTimePqKeys = append(ks.OneTimePqKeys, up.OneTimePqKeys...)
	return nil
}

// PreKeyBundle is the material handed out for one target device on a
// prekey fetch.
type PreKeyBundle struct {
	DeviceID       int
	RegistrationID int
	IdentityKey    []byte
	SignedPreKey   *SignedPreKey
	PreKey         *PreKey      // nil when the one-time queue is empty
	PqPreKey       *KyberPreKey // one-shot if available, else last-resort
}

// ConsumePreKeys pops prekey material for the targeted devices of an
// account. deviceID of 0 targets all devices. One-time keys are consumed
// in FIFO order; when withPq is set a one-shot Kyber key is consumed if
// available, falling back to the last-resort key.
func (s *State) ConsumePreKeys(id ServiceID, deviceID int, withPq bool) ([]*PreKeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountLocked(id)
	if !ok {
		return nil, ErrNoAccount
	}

	identity := IdentityACI
	if id.Kind == KindPNI {
		identity = IdentityPNI
	}

	deviceIDs := make([]int, 0, len(account.Devices))
	for did := range account.Devices {
		if deviceID != 0 && did != deviceID {
			continue
		}
		deviceIDs = append(deviceIDs, did)
	}
	slices.Sort(deviceIDs)

	var bundles []*PreKeyBundle
	for _, did := range deviceIDs {
		device := account.Devices[did]
		ks := device.Keys[identity]
		if ks == nil || ks.SignedPreKey == nil {
			continue
		}

		bundle := &PreKeyBundle{
			DeviceID:     did,
			IdentityKey:  ks.IdentityKey,
			SignedPreKey: ks.SignedPreKey,
		}
		if identity == IdentityPNI {
			bundle.RegistrationID = device.PNIRegistrationID
		} else {
			bundle.RegistrationID = device.RegistrationID
		}

		if len(ks.OneTimePreKeys) > 0 {
			bundle.PreKey = ks.OneTimePreKeys[0]
			ks.OneTimePreKeys = ks.OneTimePreKeys[1:]
		}
		if withPq {
			if len(ks.OneTimePqKeys) > 0 {
				bundle.PqPreKey = ks.OneTimePqKeys[0]
				ks.OneTimePqKeys = ks.OneTimePqKeys[1:]
			} else {
				bundle.PqPreKey = ks.PqLastResortKey
			}
		}
		bundles = append(bundles, bundle)
	}

	if len(bundles) == 0 {
		return nil, ErrNoDevice
	}
	return bundles, nil
}

// PreKeyCounts reports the remaining one-time key counts for a device.
func (s *State) PreKeyCounts(aci uuid.UUID, deviceID int, identity Identity) (ec, pq int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return 0, 0, ErrNoAccount
	}
	device, ok := account.Devices[deviceID]
	if !ok {
		return 0, 0, ErrNoDevice
	}
	ks := device.Keys[identity]
	if ks == nil {
		return 0, 0, nil
	}
	return len(ks.OneTimePreKeys), len(ks.OneTimePqKeys), nil
}

// IdentityKey returns the identity public key an account's devices present
// for one identity flavor.
func (s *State) IdentityKey(id ServiceID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountLocked(id)
	if !ok {
		return nil, ErrNoAccount
	}
	identity := IdentityACI
	if id.Kind == KindPNI {
		identity = IdentityPNI
	}
	for _, device := range account.Devices {
		if ks := device.Keys[identity]; ks != nil && len(ks.IdentityKey) > 0 {
			return ks.IdentityKey, nil
		}
	}
	return nil, ErrNoDevice
}
