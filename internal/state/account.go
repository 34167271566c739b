package state

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PrimaryDeviceID is the device id every account's first device holds.
const PrimaryDeviceID = 1

// Account is a registered Signal account. Fields are fixed at registration;
// the mutable maps are guarded by the owning State's lock.
type Account struct {
	ACI        uuid.UUID
	PNI        uuid.UUID
	Number     string // E164
	ProfileKey []byte // 32 bytes, opaque

	Devices map[int]*Device

	// Username state. Hash and proof are opaque zk material.
	UsernameHash []byte
	UsernameLink *UsernameLink
	reservation  *usernameReservation

	// Versioned encrypted profiles keyed by profile key version string.
	Profiles map[string]*Profile

	// Storage service state.
	storage *accountStorage

	// Backup bindings.
	BackupIDRequest  []byte // stored blinded credential request (ACI)
	MediaIDRequest   []byte // stored blinded credential request (media)
	BackupPublicKey  []byte

	// Sealed-sender access control.
	UnidentifiedAccessKey          []byte
	UnrestrictedUnidentifiedAccess bool
}

// Profile is one versioned encrypted profile record.
type Profile struct {
	Name               []byte
	About              []byte
	AboutEmoji         []byte
	PhoneNumberSharing []byte
	Commitment         []byte
	PaymentAddress     []byte
}

// UsernameLink is a server-issued handle mapping a UUID to a client
// encrypted username blob.
type UsernameLink struct {
	Handle         uuid.UUID
	EncryptedValue []byte
}

type usernameReservation struct {
	Hash      []byte
	ExpiresAt time.Time
}

// Device is one registered device of an account.
type Device struct {
	ID                int
	ACI               uuid.UUID
	Password          string
	RegistrationID    int
	PNIRegistrationID int
	Name              string // base64 of client-encrypted name
	FetchesMessages   bool
	Created           int64
	LastSeen          int64

	// Prekey inventories, one per identity flavor.
	Keys map[Identity]*KeySet

	// Queued envelopes awaiting delivery, in enqueue order.
	queue []*Envelope
	// notify is signaled (non-blocking) on enqueue when a consumer is attached.
	notify chan struct{}
}

// KeySet is the prekey inventory of one identity flavor of a device.
// The signed prekey and last-resort key are replaced, never unset.
type KeySet struct {
	IdentityKey     []byte // 33-byte serialized public key
	SignedPreKey    *SignedPreKey
	PqLastResortKey *KyberPreKey
	OneTimePreKeys  []*PreKey      // FIFO consumption order
	OneTimePqKeys   []*KyberPreKey // FIFO consumption order
}

// PreKey is a one-time EC prekey.
type PreKey struct {
	KeyID     int
	PublicKey []byte
}

// SignedPreKey is the current signed EC prekey.
type SignedPreKey struct {
	KeyID     int
	PublicKey []byte
	Signature []byte
}

// KyberPreKey is a post-quantum prekey, one-shot or last-resort.
type KyberPreKey struct {
	KeyID     int
	PublicKey []byte
	Signature []byte
}

// Envelope is a queued message for one destination device.
type Envelope struct {
	GUID            string
	Type            int32
	SourceServiceID string
	SourceDevice    int
	DestinationID   string
	DeviceID        int
	Content         []byte
	Timestamp       uint64
	ServerTimestamp uint64
	Urgent          bool
	Story           bool
}

// AuthName returns the HTTP Basic username of this device: "{aci}.{deviceId}".
func (d *Device) AuthName() string {
	return d.ACI.String() + "." + strconv.Itoa(d.ID)
}
