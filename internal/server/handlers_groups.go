package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	gproto "google.golang.org/protobuf/proto"

	"github.com/gwillem/signal-mock/internal/proto"
	"github.com/gwillem/signal-mock/internal/state"
)

// handleCreateGroup persists an initial group state at version 0. The
// group's public key must match the verified auth presentation.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var group proto.Group
	if err := readProtoBody(r, &group); err != nil {
		writeError(w, s.log, err)
		return
	}

	ga := requestGroupAuth(r)
	if !bytes.Equal(group.GetPublicKey(), ga.PublicParams) {
		writeError(w, s.log, forbiddenError(fmt.Errorf("group public key does not match credentials")))
		return
	}
	if group.GetVersion() != 0 {
		writeError(w, s.log, validationError(fmt.Errorf("new group version must be 0, got %d", group.GetVersion())))
		return
	}
	if len(group.GetMembers()) == 0 {
		writeError(w, s.log, validationError(fmt.Errorf("group has no members")))
		return
	}
	if group.GetAccessControl() == nil {
		writeError(w, s.log, validationError(fmt.Errorf("group has no access control")))
		return
	}

	serialized, err := gproto.Marshal(&group)
	if err != nil {
		writeError(w, s.log, protocolError(err))
		return
	}
	if _, err := s.state.CreateGroup(group.GetPublicKey(), serialized); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleGetGroup returns the current group state.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	ga := requestGroupAuth(r)
	g, ok := s.state.Group(ga.PublicParams)
	if !ok {
		writeError(w, s.log, notFoundError(state.ErrNoGroup))
		return
	}

	var group proto.Group
	if err := gproto.Unmarshal(g.State, &group); err != nil {
		writeError(w, s.log, fmt.Errorf("stored group state: %w", err))
		return
	}
	if err := respondProto(w, http.StatusOK, &group); err != nil {
		s.log.Error().Err(err).Msg("respond group")
	}
}

// handleModifyGroup applies a signed GroupChange at version current+1,
// appends it to the change log, and returns the server-countersigned
// change.
func (s *Server) handleModifyGroup(w http.ResponseWriter, r *http.Request) {
	var actions proto.GroupChange_Actions
	if err := readProtoBody(r, &actions); err != nil {
		writeError(w, s.log, err)
		return
	}

	ga := requestGroupAuth(r)
	g, ok := s.state.Group(ga.PublicParams)
	if !ok {
		writeError(w, s.log, notFoundError(state.ErrNoGroup))
		return
	}
	if actions.GetVersion() != g.Version+1 {
		writeError(w, s.log, conflictError(nil,
			fmt.Errorf("%w: change version %d, group at %d", state.ErrGroupVersion, actions.GetVersion(), g.Version)))
		return
	}

	var group proto.Group
	if err := gproto.Unmarshal(g.State, &group); err != nil {
		writeError(w, s.log, fmt.Errorf("stored group state: %w", err))
		return
	}
	if err := applyGroupActions(&group, &actions); err != nil {
		writeError(w, s.log, validationError(err))
		return
	}
	group.Version = actions.GetVersion()

	newState, err := gproto.Marshal(&group)
	if err != nil {
		writeError(w, s.log, protocolError(err))
		return
	}
	actionBytes, err := gproto.Marshal(&actions)
	if err != nil {
		writeError(w, s.log, protocolError(err))
		return
	}
	signature, err := s.zkSecret.Sign(randomness32(), actionBytes)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	change := &proto.GroupChange{
		Actions:         actionBytes,
		ServerSignature: signature,
	}
	changeBytes, err := gproto.Marshal(change)
	if err != nil {
		writeError(w, s.log, protocolError(err))
		return
	}

	if _, err := s.state.ApplyGroupChange(ga.PublicParams, actions.GetVersion(), changeBytes, newState); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := respondProto(w, http.StatusOK, change); err != nil {
		s.log.Error().Err(err).Msg("respond group change")
	}
}

// applyGroupActions folds a change's actions into the group state. The
// server understands membership and attribute actions; everything else in
// the member entries stays opaque ciphertext.
func applyGroupActions(group *proto.Group, actions *proto.GroupChange_Actions) error {
	for _, add := range actions.GetAddMembers() {
		member := add.GetAdded()
		if member == nil || len(member.GetUserId()) == 0 {
			return fmt.Errorf("add member action without member")
		}
		for _, existing := range group.GetMembers() {
			if bytes.Equal(existing.GetUserId(), member.GetUserId()) {
				return fmt.Errorf("member already in group")
			}
		}
		member.JoinedAtVersion = actions.GetVersion()
		group.Members = append(group.Members, member)
	}

	for _, del := range actions.GetDeleteMembers() {
		found := false
		members := group.GetMembers()[:0]
		for _, existing := range group.GetMembers() {
			if bytes.Equal(existing.GetUserId(), del.GetDeletedUserId()) {
				found = true
				continue
			}
			members = append(members, existing)
		}
		if !found {
			return fmt.Errorf("delete of non-member")
		}
		group.Members = members
	}

	for _, mod := range actions.GetModifyMemberRoles() {
		found := false
		for _, existing := range group.GetMembers() {
			if bytes.Equal(existing.GetUserId(), mod.GetUserId()) {
				existing.Role = mod.GetRole()
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("role change for non-member")
		}
	}

	if t := actions.GetModifyTitle(); t != nil {
		group.Title = t.GetTitle()
	}
	if d := actions.GetModifyDescription(); d != nil {
		group.Description = d.GetDescription()
	}
	if a := actions.GetModifyAvatar(); a != nil {
		group.Avatar = a.GetAvatar()
	}
	if t := actions.GetModifyDisappearingMessagesTimer(); t != nil {
		group.DisappearingMessagesTimer = t.GetTimer()
	}
	if group.AccessControl == nil {
		group.AccessControl = &proto.AccessControl{}
	}
	if ac := actions.GetModifyAttributesAccess(); ac != nil {
		group.AccessControl.Attributes = ac.GetAttributesAccess()
	}
	if ac := actions.GetModifyMemberAccess(); ac != nil {
		group.AccessControl.Members = ac.GetMembersAccess()
	}
	if ac := actions.GetModifyAddFromInviteLinkAccess(); ac != nil {
		group.AccessControl.AddFromInviteLink = ac.GetAddFromInviteLinkAccess()
	}
	return nil
}

// handleGroupLogs returns the change log entries after a version.
func (s *Server) handleGroupLogs(w http.ResponseWriter, r *http.Request) {
	fromVersion, err := strconv.ParseUint(mux.Vars(r)["fromVersion"], 10, 32)
	if err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("fromVersion: %w", err)))
		return
	}

	ga := requestGroupAuth(r)
	entries, err := s.state.GroupChangeLog(ga.PublicParams, uint32(fromVersion))
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	changes := &proto.GroupChanges{}
	for _, e := range entries {
		var change proto.GroupChange
		if err := gproto.Unmarshal(e.Change, &change); err != nil {
			writeError(w, s.log, fmt.Errorf("stored group change: %w", err))
			return
		}
		var groupState proto.Group
		if err := gproto.Unmarshal(e.State, &groupState); err != nil {
			writeError(w, s.log, fmt.Errorf("stored group state: %w", err))
			return
		}
		changes.GroupChanges = append(changes.GroupChanges, &proto.GroupChanges_GroupChangeState{
			GroupChange: &change,
			GroupState:  &groupState,
		})
	}
	if err := respondProto(w, http.StatusOK, changes); err != nil {
		s.log.Error().Err(err).Msg("respond group logs")
	}
}
