package server

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"github.com/gwillem/signal-mock/internal/state"
)

// handleListDevices returns the account's registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)

	ids := make([]int, 0, len(account.Devices))
	for id := range account.Devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	resp := DeviceListResponse{Devices: []DeviceInfo{}}
	for _, id := range ids {
		d := account.Devices[id]
		resp.Devices = append(resp.Devices, DeviceInfo{
			ID:       d.ID,
			Name:     d.Name,
			Created:  d.Created,
			LastSeen: d.LastSeen,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleProvisioningCode mints a verification code for a primary-driven
// link (the primary asks for a code to show the new device).
func (s *Server) handleProvisioningCode(w http.ResponseWriter, r *http.Request) {
	account := requestAccount(r)
	code := newProvisioningCode()

	s.provisioning.mu.Lock()
	s.provisioning.byCode[code] = &pendingLink{
		primary: &PrimaryInfo{ACI: account.ACI, PNI: account.PNI, Number: account.Number, ProfileKey: account.ProfileKey},
	}
	s.provisioning.mu.Unlock()

	respondJSON(w, http.StatusOK, ProvisioningCodeResponse{VerificationCode: code})
}

// handleProvisioning serves GET /v1/devices/provisioning/{uuid}: it
// advertises the attempt to the harness, waits for the provision URL, and
// answers with the encrypted provision envelope.
func (s *Server) handleProvisioning(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	pending := s.provisioning.advertise(id)

	resp, err := pending.responseQueue.Shift(r.Context())
	if err != nil {
		writeError(w, s.log, fmt.Errorf("provision %s: %w", id, err))
		return
	}
	if resp.Primary == nil {
		writeError(w, s.log, protocolError(fmt.Errorf("provision response without primary")))
		return
	}

	urlUUID, clientPub, err := provisionURLKeys(resp.ProvisionURL)
	if err != nil {
		writeError(w, s.log, protocolError(err))
		return
	}

	code := s.provisioning.issueCode(pending, resp.Primary)
	envelope, err := buildProvisionMessage(resp.Primary, code, clientPub)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	// A provisioning socket may be waiting on the URL's uuid.
	s.provisioning.deliverEnvelope(urlUUID, envelope)

	if err := respondProto(w, http.StatusOK, envelope); err != nil {
		s.log.Error().Err(err).Msg("respond provision envelope")
	}
}

// handleLinkDevice registers a secondary device against a provisioning
// code (PUT /v1/devices/link or PUT /v1/devices/{code}).
func (s *Server) handleLinkDevice(w http.ResponseWriter, r *http.Request) {
	_, password, ok := basicCredentials(r)
	if !ok {
		writeError(w, s.log, authError(fmt.Errorf("missing link credentials")))
		return
	}

	var req RegisterRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, s.log, err)
		return
	}
	code := req.VerificationCode
	if code == "" {
		code = mux.Vars(r)["code"]
	}
	if code == "" {
		writeError(w, s.log, validationError(fmt.Errorf("missing verification code")))
		return
	}

	link, ok := s.provisioning.takeCode(code)
	if !ok {
		writeError(w, s.log, forbiddenError(fmt.Errorf("unknown provisioning code")))
		return
	}

	attrs := req.AccountAttributes
	device, err := s.state.LinkDevice(link.primary.ACI, state.LinkDeviceOptions{
		Password:          password,
		RegistrationID:    attrs.RegistrationID,
		PNIRegistrationID: attrs.PNIRegistrationID,
		Name:              attrs.Name,
		FetchesMessages:   attrs.FetchesMessages,
	})
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	// Install the signed prekeys carried in the link request, bound to the
	// account identity keys the provision message handed over.
	if err := s.installLinkKeys(device, link.primary, &req); err != nil {
		writeError(w, s.log, err)
		return
	}

	if link.result != nil {
		s.provisioning.deviceRegistered(link, link.primary.ACI, device.RegistrationID)
	}

	account, _ := s.state.Account(state.ACIFor(link.primary.ACI))
	respondJSON(w, http.StatusOK, RegisterResponse{
		UUID:     account.ACI.String(),
		PNI:      account.PNI.String(),
		DeviceID: device.ID,
	})
}

func (s *Server) installLinkKeys(device *state.Device, primary *PrimaryInfo, req *RegisterRequest) error {
	for _, flavor := range []struct {
		identity    state.Identity
		identityKey []byte
		signed      *SignedPreKeyEntity
		lastResort  *KyberPreKeyEntity
	}{
		{state.IdentityACI, primary.ACIIdentityPublic, req.ACISignedPreKey, req.ACIPqLastResort},
		{state.IdentityPNI, primary.PNIIdentityPublic, req.PNISignedPreKey, req.PNIPqLastResort},
	} {
		up := state.KeyUpload{IdentityKey: flavor.identityKey}
		var err error
		if up.SignedPreKey, err = signedPreKeyFromEntity(flavor.signed); err != nil {
			return validationError(err)
		}
		if up.PqLastResortKey, err = kyberPreKeyFromEntity(flavor.lastResort); err != nil {
			return validationError(err)
		}
		// A code-only link (no provision message) carries no identity key
		// yet; the signatures get checked on the follow-up key upload.
		if len(up.IdentityKey) > 0 {
			if err := s.verifyUploadSignatures(up.IdentityKey, &up); err != nil {
				return err
			}
		}
		if err := s.state.SetDeviceKeys(device.ACI, device.ID, flavor.identity, up); err != nil {
			return err
		}
	}
	return nil
}
