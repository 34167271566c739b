package state

import (
	"slices"

	"github.com/google/uuid"
)

// OutgoingMessage is one element of a send before device-set validation.
type OutgoingMessage struct {
	Type                      int32
	DestinationDeviceID       int
	DestinationRegistrationID int
	Content                   []byte
}

// DeviceMismatch enumerates what a sender got wrong about the destination's
// device set, in the shape of Signal's 409 body.
type DeviceMismatch struct {
	MissingDevices []int `json:"missingDevices"`
	ExtraDevices   []int `json:"extraDevices"`
	StaleDevices   []int `json:"staleDevices"`
}

// Empty reports whether the device set matched.
func (m *DeviceMismatch) Empty() bool {
	return len(m.MissingDevices) == 0 && len(m.ExtraDevices) == 0 && len(m.StaleDevices) == 0
}

// CheckDeviceSet validates a send against the destination account's actual
// devices: every registered device must be addressed (missing), no message
// may target an unknown device (extra), and every registration id must be
// current (stale).
func (s *State) CheckDeviceSet(id ServiceID, messages []OutgoingMessage) (*DeviceMismatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountLocked(id)
	if !ok {
		return nil, ErrNoAccount
	}

	mismatch := &DeviceMismatch{}
	addressed := make(map[int]bool, len(messages))
	for _, m := range messages {
		addressed[m.DestinationDeviceID] = true
		device, ok := account.Devices[m.DestinationDeviceID]
		if !ok {
			mismatch.ExtraDevices = append(mismatch.ExtraDevices, m.DestinationDeviceID)
			continue
		}
		want := device.RegistrationID
		if id.Kind == KindPNI {
			want = device.PNIRegistrationID
		}
		if m.DestinationRegistrationID != 0 && m.DestinationRegistrationID != want {
			mismatch.StaleDevices = append(mismatch.StaleDevices, m.DestinationDeviceID)
		}
	}
	for did := range account.Devices {
		if !addressed[did] {
			mismatch.MissingDevices = append(mismatch.MissingDevices, did)
		}
	}
	slices.Sort(mismatch.MissingDevices)
	slices.Sort(mismatch.ExtraDevices)
	slices.Sort(mismatch.StaleDevices)
	return mismatch, nil
}

// QueueMessage appends an envelope to the destination device's queue and
// pokes any attached consumer. The GUID and server timestamp are assigned
// here.
func (s *State) QueueMessage(id ServiceID, env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountLocked(id)
	if !ok {
		return ErrNoAccount
	}
	device, ok := account.Devices[env.DeviceID]
	if !ok {
		return ErrNoDevice
	}

	if env.GUID == "" {
		env.GUID = uuid.NewString()
	}
	device.queue = append(device.queue, env)
	if device.notify != nil {
		select {
		case device.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// QueuedMessages returns a snapshot of a device's pending envelopes in
// enqueue order. Messages stay queued until acknowledged.
func (s *State) QueuedMessages(aci uuid.UUID, deviceID int) ([]*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, ErrNoAccount
	}
	device, ok := account.Devices[deviceID]
	if !ok {
		return nil, ErrNoDevice
	}
	return slices.Clone(device.queue), nil
}

// AckMessage removes one envelope from a device's queue by GUID. Returns
// false when no such envelope is queued.
func (s *State) AckMessage(aci uuid.UUID, deviceID int, guid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return false, ErrNoAccount
	}
	device, ok := account.Devices[deviceID]
	if !ok {
		return false, ErrNoDevice
	}
	for i, env := range device.queue {
		if env.GUID == guid {
			device.queue = slices.Delete(device.queue, i, i+1)
			return true, nil
		}
	}
	return false, nil
}

// AttachConsumer registers a live message consumer for a device and
// returns the notification channel pulsed on every enqueue. Only one
// consumer is attached at a time; a newer attach replaces the older one.
func (s *State) AttachConsumer(aci uuid.UUID, deviceID int) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, ErrNoAccount
	}
	device, ok := account.Devices[deviceID]
	if !ok {
		return nil, ErrNoDevice
	}
	device.notify = make(chan struct{}, 1)
	return device.notify, nil
}

// DetachConsumer drops the live consumer registration if ch is still the
// attached one. Queued messages are untouched.
func (s *State) DetachConsumer(aci uuid.UUID, deviceID int, ch <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return
	}
	device, ok := account.Devices[deviceID]
	if !ok {
		return
	}
	if device.notify != nil && device.notify == ch {
		device.notify = nil
	}
}
