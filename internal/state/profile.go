package state

import "github.com/google/uuid"

// SetProfile installs a versioned encrypted profile for an account.
func (s *State) SetProfile(aci uuid.UUID, version string, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return ErrNoAccount
	}
	account.Profiles[version] = p
	return nil
}

// ProfileAt returns the profile stored under a version string.
func (s *State) ProfileAt(aci uuid.UUID, version string) (*Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByACI[aci]
	if !ok {
		return nil, false
	}
	p, ok := account.Profiles[version]
	return p, ok
}
