package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	gproto "google.golang.org/protobuf/proto"
)

// buildRouter wires every REST path and the two WebSocket upgrade points.
// The same router also answers requests arriving over the WebSocket duplex
// channel (see dispatchWS).
func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	// Transport.
	r.HandleFunc("/v1/websocket/", s.handleWebSocket)
	r.HandleFunc("/v1/websocket/provisioning/", s.handleProvisioningWebSocket)
	r.HandleFunc("/v1/keepalive", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	// Registration and verification sessions.
	r.HandleFunc("/v1/registration", s.handleRegistration).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/v1/verification/session", s.handleCreateVerificationSession).Methods(http.MethodPost)
	r.HandleFunc("/v1/verification/session/{id}", s.handleVerificationSession).Methods(http.MethodGet, http.MethodPatch)
	r.HandleFunc("/v1/verification/session/{id}/code", s.handleVerificationCode).Methods(http.MethodPost, http.MethodPut)

	// Accounts.
	r.HandleFunc("/v1/accounts/whoami", s.authDevice(s.handleWhoAmI)).Methods(http.MethodGet)
	r.HandleFunc("/v1/accounts/attributes/", s.authDevice(s.handleSetAccountAttributes)).Methods(http.MethodPut)
	r.HandleFunc("/v1/accounts/username_hash/reserve", s.authDevice(s.handleReserveUsername)).Methods(http.MethodPut)
	r.HandleFunc("/v1/accounts/username_hash/confirm", s.authDevice(s.handleConfirmUsername)).Methods(http.MethodPut)
	r.HandleFunc("/v1/accounts/username_hash", s.authDevice(s.handleDeleteUsername)).Methods(http.MethodDelete)
	r.HandleFunc("/v1/accounts/username_hash/{hash}", s.handleLookupUsernameHash).Methods(http.MethodGet)
	r.HandleFunc("/v1/accounts/username_link", s.authDevice(s.handleSetUsernameLink)).Methods(http.MethodPut)
	r.HandleFunc("/v1/accounts/username_link/{uuid}", s.handleGetUsernameLink).Methods(http.MethodGet)

	// Devices and provisioning.
	r.HandleFunc("/v1/devices", s.authDevice(s.handleListDevices)).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/", s.authDevice(s.handleListDevices)).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/provisioning/code", s.authDevice(s.handleProvisioningCode)).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/provisioning/{uuid}", s.handleProvisioning).Methods(http.MethodGet)
	r.HandleFunc("/v1/devices/link", s.handleLinkDevice).Methods(http.MethodPut)
	r.HandleFunc("/v1/devices/{code}", s.handleLinkDevice).Methods(http.MethodPut)

	// Keys.
	r.HandleFunc("/v2/keys", s.authDevice(s.handleKeys)).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/v2/keys/{serviceId}/{deviceId}", s.authDeviceOrAccessKey(s.resolveKeysTarget, s.handleGetKeys)).Methods(http.MethodGet)

	// Messages.
	r.HandleFunc("/v1/messages", s.authDevice(s.handleGetMessages)).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/uuid/{guid}", s.authDevice(s.handleAckMessage)).Methods(http.MethodDelete)
	r.HandleFunc("/v1/messages/{destination}", s.authDeviceOrAccessKey(s.resolveMessageTarget, s.handleSendMessage)).Methods(http.MethodPut)

	// Certificates and credentials.
	r.HandleFunc("/v1/certificate/delivery", s.authDevice(s.handleSenderCertificate)).Methods(http.MethodGet)
	r.HandleFunc("/v1/certificate/auth/group", s.authDevice(s.handleGroupCredentials)).Methods(http.MethodGet)

	// Profiles.
	r.HandleFunc("/v1/profile", s.authDevice(s.handleSetProfile)).Methods(http.MethodPut)
	r.HandleFunc("/v1/profile/{serviceId}/{version}", s.authDeviceOrAccessKey(s.resolveProfileTarget, s.handleGetProfile)).Methods(http.MethodGet)
	r.HandleFunc("/v1/profile/{serviceId}/{version}/{credentialRequest}", s.authDeviceOrAccessKey(s.resolveProfileTarget, s.handleGetProfile)).Methods(http.MethodGet)

	// Groups.
	r.HandleFunc("/v1/groups", s.authGroup(s.handleCreateGroup)).Methods(http.MethodPut)
	r.HandleFunc("/v1/groups", s.authGroup(s.handleGetGroup)).Methods(http.MethodGet)
	r.HandleFunc("/v1/groups", s.authGroup(s.handleModifyGroup)).Methods(http.MethodPatch)
	r.HandleFunc("/v1/groups/logs/{fromVersion}", s.authGroup(s.handleGroupLogs)).Methods(http.MethodGet)

	// Storage service.
	r.HandleFunc("/v1/storage/auth", s.authDevice(s.handleStorageAuth)).Methods(http.MethodGet)
	r.HandleFunc("/v1/storage/manifest", s.authDevice(s.handleStorageManifest)).Methods(http.MethodGet)
	r.HandleFunc("/v1/storage/manifest/version/{version}", s.authDevice(s.handleStorageManifestVersion)).Methods(http.MethodGet)
	r.HandleFunc("/v1/storage/read", s.authDevice(s.handleStorageRead)).Methods(http.MethodPut)
	r.HandleFunc("/v1/storage", s.authDevice(s.handleStorageWrite)).Methods(http.MethodPut)

	// Attachments.
	r.HandleFunc("/v3/attachments/form/upload", s.authDevice(s.handleAttachmentForm)).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/attachments/upload/{key}", s.handleAttachmentUpload).Methods(http.MethodPut)
	r.HandleFunc("/attachments/{key}", s.handleAttachmentDownload).Methods(http.MethodGet)

	// Backups.
	r.HandleFunc("/v1/archives/backupid", s.authDevice(s.handleSetBackupID)).Methods(http.MethodPut)
	r.HandleFunc("/v1/archives/auth", s.authDevice(s.handleBackupCredentials)).Methods(http.MethodGet)
	r.HandleFunc("/v1/archives/keys", s.authBackup(s.handleSetBackupKey)).Methods(http.MethodPut)
	r.HandleFunc("/v1/archives", s.authBackup(s.handleBackupInfo)).Methods(http.MethodGet)

	// Call links.
	r.HandleFunc("/v1/call-link/create-auth", s.authDevice(s.handleCreateCallLinkAuth)).Methods(http.MethodPost)
	r.HandleFunc("/v1/call-link/auth", s.authDevice(s.handleCallLinkAuth)).Methods(http.MethodGet)

	r.Use(s.logRequests)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug().Str("verb", r.Method).Str("path", r.URL.Path).Msg("http")
		next.ServeHTTP(w, r)
	})
}

func nowSeconds() uint64 {
	return uint64(time.Now().Unix())
}

// respondJSON writes a JSON body with the given status.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondProto writes a protobuf body with the given status.
func respondProto(w http.ResponseWriter, status int, msg gproto.Message) error {
	data, err := gproto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	return nil
}

// readJSONBody decodes a JSON request body.
func readJSONBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return protocolError(fmt.Errorf("decode body: %w", err))
	}
	return nil
}

// readProtoBody decodes a raw protobuf request body.
func readProtoBody(r *http.Request, msg gproto.Message) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return protocolError(fmt.Errorf("read body: %w", err))
	}
	if err := gproto.Unmarshal(data, msg); err != nil {
		return protocolError(fmt.Errorf("unmarshal body: %w", err))
	}
	return nil
}
