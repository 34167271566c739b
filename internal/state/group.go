package state

import (
	"encoding/base64"
)

// Group is the server-side record of a zkgroup v2 group. The member list
// and attributes live inside the opaque serialized group state; the server
// tracks only what it must arbitrate: the public params, the version
// counter, and the signed change log.
type Group struct {
	PublicParams []byte // 97-byte group public params, the group's identity
	Version      uint32
	State        []byte // serialized Group protobuf at Version
	Changes      []GroupLogEntry
}

// GroupLogEntry is one applied change: the signed GroupChange and the full
// group state after it.
type GroupLogEntry struct {
	Version uint32
	Change  []byte // serialized GroupChange
	State   []byte // serialized Group after the change
}

func groupKey(publicParams []byte) string {
	return base64.StdEncoding.EncodeToString(publicParams)
}

// CreateGroup installs a new group at version 0. Fails when a group with
// the same public params already exists.
func (s *State) CreateGroup(publicParams, groupState []byte) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := groupKey(publicParams)
	if _, ok := s.groups[key]; ok {
		return nil, ErrGroupExists
	}
	g := &Group{
		PublicParams: publicParams,
		Version:      0,
		State:        groupState,
	}
	s.groups[key] = g
	return g, nil
}

// Group returns the group identified by its public params.
func (s *State) Group(publicParams []byte) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupKey(publicParams)]
	return g, ok
}

// ApplyGroupChange appends a change at exactly version current+1 and
// installs the new state. Any other version fails with ErrGroupVersion.
func (s *State) ApplyGroupChange(publicParams []byte, version uint32, change, newState []byte) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupKey(publicParams)]
	if !ok {
		return nil, ErrNoGroup
	}
	if version != g.Version+1 {
		return nil, ErrGroupVersion
	}
	g.Version = version
	g.State = newState
	g.Changes = append(g.Changes, GroupLogEntry{Version: version, Change: change, State: newState})
	return g, nil
}

// GroupChangeLog returns the change log entries with a version greater
// than fromVersion (the initial state has no change entry).
func (s *State) GroupChangeLog(publicParams []byte, fromVersion uint32) ([]GroupLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupKey(publicParams)]
	if !ok {
		return nil, ErrNoGroup
	}
	var entries []GroupLogEntry
	for _, e := range g.Changes {
		if e.Version > fromVersion {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
