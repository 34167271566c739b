package server

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gwillem/signal-mock/internal/libsignal"
	"github.com/gwillem/signal-mock/internal/proto"
	"github.com/gwillem/signal-mock/internal/state"
)

func (s *Server) resolveMessageTarget(r *http.Request) (*state.Account, error) {
	sid, err := state.ParseServiceID(mux.Vars(r)["destination"])
	if err != nil {
		return nil, notFoundError(err)
	}
	account, ok := s.state.Account(sid)
	if !ok {
		return nil, notFoundError(state.ErrNoAccount)
	}
	return account, nil
}

// handleSendMessage accepts a JSON MessageList (identified or sealed
// sender) and queues one envelope per targeted device. Device set
// mismatches fail with 409 and the stale/missing/extra breakdown.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	dest, err := state.ParseServiceID(mux.Vars(r)["destination"])
	if err != nil {
		writeError(w, s.log, notFoundError(err))
		return
	}

	var list IncomingMessageList
	if err := readJSONBody(r, &list); err != nil {
		writeError(w, s.log, err)
		return
	}

	outgoing := make([]state.OutgoingMessage, 0, len(list.Messages))
	contents := make([][]byte, 0, len(list.Messages))
	for _, m := range list.Messages {
		content, err := decode64(m.Content)
		if err != nil {
			writeError(w, s.log, validationError(fmt.Errorf("message content: %w", err)))
			return
		}
		outgoing = append(outgoing, state.OutgoingMessage{
			Type:                      m.Type,
			DestinationDeviceID:       m.DestinationDeviceID,
			DestinationRegistrationID: m.DestinationRegistrationID,
			Content:                   content,
		})
		contents = append(contents, content)
	}

	mismatch, err := s.state.CheckDeviceSet(dest, outgoing)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if !mismatch.Empty() {
		writeError(w, s.log, conflictError(mismatch, fmt.Errorf("device set mismatch")))
		return
	}

	sealed := sealedSender(r)
	var sourceServiceID string
	var sourceDevice int
	if !sealed {
		account := requestAccount(r)
		device := requestDevice(r)
		sourceServiceID = account.ACI.String()
		sourceDevice = device.ID
	}

	timestamp := list.Timestamp
	if timestamp == 0 {
		timestamp = uint64(time.Now().UnixMilli())
	}
	serverTimestamp := uint64(time.Now().UnixMilli())

	for i, m := range outgoing {
		env := &state.Envelope{
			Type:            m.Type,
			SourceServiceID: sourceServiceID,
			SourceDevice:    sourceDevice,
			DestinationID:   dest.String(),
			DeviceID:        m.DestinationDeviceID,
			Content:         contents[i],
			Timestamp:       timestamp,
			ServerTimestamp: serverTimestamp,
			Urgent:          list.Urgent,
		}
		if err := s.state.QueueMessage(dest, env); err != nil {
			writeError(w, s.log, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, SendMessageResponse{NeedsSync: !sealed})
}

// envelopeProto converts a queued envelope to its wire protobuf.
func envelopeProto(env *state.Envelope) *proto.Envelope {
	p := &proto.Envelope{
		Type:            proto.Envelope_Type(env.Type).Enum(),
		Timestamp:       &env.Timestamp,
		ServerGuid:      &env.GUID,
		ServerTimestamp: &env.ServerTimestamp,
		Content:         env.Content,
		Urgent:          &env.Urgent,
	}
	if env.SourceServiceID != "" {
		p.SourceServiceId = &env.SourceServiceID
		sourceDevice := uint32(env.SourceDevice)
		p.SourceDevice = &sourceDevice
	}
	if env.DestinationID != "" {
		p.DestinationServiceId = &env.DestinationID
	}
	return p
}

// envelopeJSON is the REST rendering of a queued envelope.
type envelopeJSON struct {
	GUID            string `json:"guid"`
	Type            int32  `json:"type"`
	SourceServiceID string `json:"sourceServiceId,omitempty"`
	SourceDevice    int    `json:"sourceDevice,omitempty"`
	Content         string `json:"content"` // base64
	Timestamp       uint64 `json:"timestamp"`
	ServerTimestamp uint64 `json:"serverTimestamp"`
	Urgent          bool   `json:"urgent"`
}

// handleGetMessages returns the authenticated device's queued envelopes.
// Envelopes stay queued until acknowledged via DELETE.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	device := requestDevice(r)

	envelopes, err := s.state.QueuedMessages(account.ACI, device.ID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	messages := make([]envelopeJSON, 0, len(envelopes))
	for _, env := range envelopes {
		messages = append(messages, envelopeJSON{
			GUID:            env.GUID,
			Type:            env.Type,
			SourceServiceID: env.SourceServiceID,
			SourceDevice:    env.SourceDevice,
			Content:         base64.StdEncoding.EncodeToString(env.Content),
			Timestamp:       env.Timestamp,
			ServerTimestamp: env.ServerTimestamp,
			Urgent:          env.Urgent,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"more":     false,
	})
}

// handleAckMessage acknowledges one envelope by GUID.
func (s *Server) handleAckMessage(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	device := requestDevice(r)

	removed, err := s.state.AckMessage(account.ACI, device.ID, mux.Vars(r)["guid"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if !removed {
		writeError(w, s.log, notFoundError(fmt.Errorf("no queued message %s", mux.Vars(r)["guid"])))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSenderCertificate mints a sealed-sender certificate for the
// authenticated device.
func (s *Server) handleSenderCertificate(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	device := requestDevice(r)

	cert, err := s.SenderCertificate(account, device)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	respondJSON(w, http.StatusOK, SenderCertificateResponse{
		Certificate: base64.StdEncoding.EncodeToString(cert),
	})
}

// handleGroupCredentials issues one auth credential per day of the
// requested redemption window.
func (s *Server) handleGroupCredentials(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)

	q := r.URL.Query()
	var start, end uint64
	if _, err := fmt.Sscan(q.Get("redemptionStartSeconds"), &start); err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("redemptionStartSeconds: %w", err)))
		return
	}
	if _, err := fmt.Sscan(q.Get("redemptionEndSeconds"), &end); err != nil {
		writeError(w, s.log, validationError(fmt.Errorf("redemptionEndSeconds: %w", err)))
		return
	}
	if end < start || (end-start) > 7*86400 {
		writeError(w, s.log, validationError(fmt.Errorf("redemption window [%d, %d]", start, end)))
		return
	}

	aci := libsignal.ServiceIDFixedWidth(libsignal.ServiceIDKindACI, account.ACI)
	pni := libsignal.ServiceIDFixedWidth(libsignal.ServiceIDKindPNI, account.PNI)

	resp := GroupCredentialsResponse{PNI: account.PNI.String(), Credentials: []GroupCredential{}}
	for t := start; t <= end; t += 86400 {
		credential, err := s.zkSecret.IssueAuthCredentialWithPni(randomness32(), aci, pni, t)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		resp.Credentials = append(resp.Credentials, GroupCredential{
			Credential:     base64.StdEncoding.EncodeToString(credential),
			RedemptionTime: t,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
