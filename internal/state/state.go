// Package state holds the mock server's entire world: accounts, devices,
// prekey inventories, per-device message queues, groups, storage service
// records, usernames, call links, and CDN blobs. Everything lives in memory
// behind one mutex and is discarded on shutdown.
package state

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the process-wide in-memory store. All access goes through its
// methods; the single mutex serializes every mutation.
type State struct {
	mu sync.Mutex

	accountsByACI  map[uuid.UUID]*Account
	accountsByPNI  map[uuid.UUID]*Account
	accountsByE164 map[string]*Account

	groups    map[string]*Group  // keyed by base64(group public params)
	usernames map[string]uuid.UUID // base64(hash) → owning ACI
	links     map[uuid.UUID]*Account
	callLinks map[string]*CallLink // keyed by base64(root key)
	cdn       map[string][]byte

	// manifestWaiters holds the reply channels of WaitForManifest callers.
	manifestWaiters map[uuid.UUID][]chan *StorageManifest

	emptyAttachmentKey string
	nextE164           int64
}

// New creates an empty State with the zero-byte CDN blob pre-allocated.
func New() *State {
	s := &State{
		accountsByACI:   make(map[uuid.UUID]*Account),
		accountsByPNI:   make(map[uuid.UUID]*Account),
		accountsByE164:  make(map[string]*Account),
		groups:          make(map[string]*Group),
		usernames:       make(map[string]uuid.UUID),
		links:           make(map[uuid.UUID]*Account),
		callLinks:       make(map[string]*CallLink),
		cdn:             make(map[string][]byte),
		manifestWaiters: make(map[uuid.UUID][]chan *StorageManifest),
		nextE164:        15550100000,
	}
	s.emptyAttachmentKey = s.putCDNLocked(nil)
	return s
}

// NextE164 allocates a phone number unique within the process lifetime.
func (s *State) NextE164() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextE164++
	return fmt.Sprintf("+%d", s.nextE164)
}

// RegisterOptions describes a new account and its primary device.
type RegisterOptions struct {
	Number     string
	ACI        uuid.UUID // zero value: allocate
	PNI        uuid.UUID // zero value: allocate
	ProfileKey []byte

	Password          string
	RegistrationID    int
	PNIRegistrationID int
	DeviceName        string
	FetchesMessages   bool

	UnidentifiedAccessKey          []byte
	UnrestrictedUnidentifiedAccess bool
}

// Register creates an account with its primary device, or re-registers an
// existing number. A number held by a different ACI is released only when
// reassign is true (the caller has decided the credentials authorize it);
// otherwise registration fails with ErrNumberTaken.
func (s *State) Register(opts RegisterOptions, reassign bool) (*Account, *Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.RegistrationID < minRegistrationID || opts.RegistrationID >= maxRegistrationID {
		return nil, nil, fmt.Errorf("%w: registration id %d", ErrInvalidRegistrationID, opts.RegistrationID)
	}
	if opts.PNIRegistrationID < minRegistrationID || opts.PNIRegistrationID >= maxRegistrationID {
		return nil, nil, fmt.Errorf("%w: pni registration id %d", ErrInvalidRegistrationID, opts.PNIRegistrationID)
	}

	if existing, ok := s.accountsByE164[opts.Number]; ok {
		if opts.ACI != uuid.Nil && existing.ACI != opts.ACI && !reassign {
			return nil, nil, ErrNumberTaken
		}
		if !reassign && opts.ACI == uuid.Nil {
			return nil, nil, ErrNumberTaken
		}
		s.dropAccountLocked(existing)
	}

	aci := opts.ACI
	if aci == uuid.Nil {
		aci = uuid.New()
	}
	pni := opts.PNI
	if pni == uuid.Nil {
		pni = uuid.New()
	}
	if _, ok := s.accountsByACI[aci]; ok {
		return nil, nil, fmt.Errorf("account %s already registered", aci)
	}

	now := time.Now().UnixMilli()
	account := &Account{
		ACI:        aci,
		PNI:        pni,
		Number:     opts.Number,
		ProfileKey: opts.ProfileKey,
		Devices:    make(map[int]*Device),
		Profiles:   make(map[string]*Profile),
		storage:    newAccountStorage(),

		UnidentifiedAccessKey:          opts.UnidentifiedAccessKey,
		UnrestrictedUnidentifiedAccess: opts.UnrestrictedUnidentifiedAccess,
	}
	device := &Device{
		ID:                PrimaryDeviceID,
		ACI:               aci,
		Password:          opts.Password,
		RegistrationID:    opts.RegistrationID,
		PNIRegistrationID: opts.PNIRegistrationID,
		Name:              opts.DeviceName,
		FetchesMessages:   opts.FetchesMessages,
		Created:           now,
		LastSeen:          now,
		Keys:              make(map[Identity]*KeySet),
	}
	account.Devices[PrimaryDeviceID] = device

	s.accountsByACI[aci] = account
	s.accountsByPNI[pni] = account
	s.accountsByE164[opts.Number] = account
	return account, device, nil
}

func (s *State) dropAccountLocked(a *Account) {
	delete(s.accountsByACI, a.ACI)
	delete(s.accountsByPNI, a.PNI)
	delete(s.accountsByE164, a.Number)
	if a.UsernameHash != nil {
		delete(s.usernames, base64.RawURLEncoding.EncodeToString(a.UsernameHash))
	}
	if a.UsernameLink != nil {
		delete(s.links, a.UsernameLink.Handle)
	}
}

// LinkDeviceOptions describes a secondary device joining an account.
type LinkDeviceOptions struct {
	Password          string
	RegistrationID    int
	PNIRegistrationID int
	Name              string
	FetchesMessages   bool
}

// LinkDevice adds a secondary device to an account and returns it.
func (s *State) LinkDevice(aci uuid.UUID, opts LinkDeviceOptions) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, ErrNoAccount
	}
	if opts.RegistrationID < minRegistrationID || opts.RegistrationID >= maxRegistrationID {
		return nil, fmt.Errorf("%w: registration id %d", ErrInvalidRegistrationID, opts.RegistrationID)
	}

	id := PrimaryDeviceID
	for did := range account.Devices {
		if did >= id {
			id = did + 1
		}
	}

	now := time.Now().UnixMilli()
	device := &Device{
		ID:                id,
		ACI:               aci,
		Password:          opts.Password,
		RegistrationID:    opts.RegistrationID,
		PNIRegistrationID: opts.PNIRegistrationID,
		Name:              opts.Name,
		FetchesMessages:   opts.FetchesMessages,
		Created:           now,
		LastSeen:          now,
		Keys:              make(map[Identity]*KeySet),
	}
	account.Devices[id] = device
	return device, nil
}

// Account returns the account a service id refers to.
func (s *State) Account(id ServiceID) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(id)
}

func (s *State) accountLocked(id ServiceID) (*Account, bool) {
	if id.Kind == KindPNI {
		a, ok := s.accountsByPNI[id.UUID]
		return a, ok
	}
	a, ok := s.accountsByACI[id.UUID]
	return a, ok
}

// AccountByE164 returns the account registered for a phone number.
func (s *State) AccountByE164(number string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accountsByE164[number]
	return a, ok
}

// Device returns one device of an account.
func (s *State) Device(aci uuid.UUID, deviceID int) (*Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, false
	}
	d, ok := account.Devices[deviceID]
	return d, ok
}

// Authenticate resolves Basic credentials ("{serviceId}.{deviceId}",
// password) to the device they belong to.
func (s *State) Authenticate(username, password string) (*Account, *Device, error) {
	sid, deviceID, err := splitAuthName(username)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountLocked(sid)
	if !ok {
		return nil, nil, ErrNoAccount
	}
	device, ok := account.Devices[deviceID]
	if !ok {
		return nil, nil, ErrNoDevice
	}
	if device.Password != password {
		return nil, nil, ErrBadCredentials
	}
	device.LastSeen = time.Now().UnixMilli()
	return account, device, nil
}

func splitAuthName(username string) (ServiceID, int, error) {
	sidPart := username
	deviceID := PrimaryDeviceID
	if i := strings.LastIndexByte(username, '.'); i >= 0 {
		var err error
		deviceID, err = strconv.Atoi(username[i+1:])
		if err != nil || deviceID < PrimaryDeviceID {
			return ServiceID{}, 0, fmt.Errorf("%w: device id in %q", ErrBadCredentials, username)
		}
		sidPart = username[:i]
	}
	sid, err := ParseServiceID(sidPart)
	if err != nil {
		return ServiceID{}, 0, fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}
	return sid, deviceID, nil
}

// ForEachAccount visits every account until fn returns false. The lock is
// held for the duration; fn must not call back into the State.
func (s *State) ForEachAccount(fn func(*Account) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accountsByACI {
		if !fn(a) {
			return
		}
	}
}

// RandomHex returns n random bytes hex-encoded (CDN keys, GUIDs).
func RandomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
