package state

import (
	"bytes"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// reservationTTL is how long a reserved username hash is soft-held before
// another account may take it.
const reservationTTL = 5 * time.Minute

func usernameKey(hash []byte) string {
	return base64.RawURLEncoding.EncodeToString(hash)
}

// ReserveUsername picks the first hash not currently taken or actively
// reserved by another account and soft-holds it for the account. A new
// reservation replaces the account's previous one.
func (s *State) ReserveUsername(aci uuid.UUID, hashes [][]byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, ErrNoAccount
	}

	now := time.Now()
	for _, hash := range hashes {
		if _, taken := s.usernames[usernameKey(hash)]; taken {
			continue
		}
		if s.reservedElsewhereLocked(aci, hash, now) {
			continue
		}
		account.reservation = &usernameReservation{Hash: hash, ExpiresAt: now.Add(reservationTTL)}
		return hash, nil
	}
	return nil, ErrUsernameTaken
}

func (s *State) reservedElsewhereLocked(aci uuid.UUID, hash []byte, now time.Time) bool {
	for _, other := range s.accountsByACI {
		if other.ACI == aci || other.reservation == nil {
			continue
		}
		if other.reservation.ExpiresAt.After(now) && bytes.Equal(other.reservation.Hash, hash) {
			return true
		}
	}
	return false
}

// ConfirmUsername promotes the account's reservation of hash to its
// registered username. The zk proof has been verified by the caller.
// Confirming a hash that is not reserved by this account, or is already
// registered, fails.
func (s *State) ConfirmUsername(aci uuid.UUID, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return ErrNoAccount
	}
	if _, taken := s.usernames[usernameKey(hash)]; taken {
		return ErrUsernameTaken
	}
	res := account.reservation
	if res == nil || !bytes.Equal(res.Hash, hash) || res.ExpiresAt.Before(time.Now()) {
		return ErrNoReservation
	}

	if account.UsernameHash != nil {
		delete(s.usernames, usernameKey(account.UsernameHash))
	}
	account.UsernameHash = hash
	account.reservation = nil
	s.usernames[usernameKey(hash)] = aci
	return nil
}

// DeleteUsername clears the account's registered username, if any.
func (s *State) DeleteUsername(aci uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return ErrNoAccount
	}
	if account.UsernameHash != nil {
		delete(s.usernames, usernameKey(account.UsernameHash))
		account.UsernameHash = nil
	}
	if account.UsernameLink != nil {
		delete(s.links, account.UsernameLink.Handle)
		account.UsernameLink = nil
	}
	return nil
}

// AccountByUsernameHash looks up the owner of a registered username hash.
func (s *State) AccountByUsernameHash(hash []byte) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aci, ok := s.usernames[usernameKey(hash)]
	if !ok {
		return nil, false
	}
	a, ok := s.accountsByACI[aci]
	return a, ok
}

// SetUsernameLink issues a fresh link handle for the account's encrypted
// username blob, replacing any previous handle.
func (s *State) SetUsernameLink(aci uuid.UUID, encrypted []byte) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return uuid.Nil, ErrNoAccount
	}
	if account.UsernameLink != nil {
		delete(s.links, account.UsernameLink.Handle)
	}
	handle := uuid.New()
	account.UsernameLink = &UsernameLink{Handle: handle, EncryptedValue: encrypted}
	s.links[handle] = account
	return handle, nil
}

// UsernameLinkValue resolves a link handle to its encrypted username blob.
func (s *State) UsernameLinkValue(handle uuid.UUID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.links[handle]
	if !ok || account.UsernameLink == nil {
		return nil, false
	}
	return account.UsernameLink.EncryptedValue, true
}
