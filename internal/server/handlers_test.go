package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gproto "google.golang.org/protobuf/proto"

	"github.com/gwillem/signal-mock/internal/proto"
	"github.com/gwillem/signal-mock/internal/signalcrypto"
	"github.com/gwillem/signal-mock/internal/state"
)

// do runs one request through the router and returns the recorder.
func do(srv *Server, method, path string, body any, setup ...func(*http.Request)) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for _, fn := range setup {
		fn(req)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func asDevice(device *state.Device, password string) func(*http.Request) {
	return func(r *http.Request) {
		r.SetBasicAuth(device.AuthName(), password)
	}
}

func TestRegistrationFlow(t *testing.T) {
	srv := newTestServer(t)
	aci := newTestIdentity(t)
	pni := newTestIdentity(t)

	req := PrimaryRegistrationRequest{
		SessionID:      "session",
		ACIIdentityKey: base64.RawStdEncoding.EncodeToString(aci.public),
		PNIIdentityKey: base64.RawStdEncoding.EncodeToString(pni.public),
		AccountAttributes: AccountAttributes{
			RegistrationID:    1000,
			PNIRegistrationID: 2000,
			FetchesMessages:   true,
		},
		ACISignedPreKey:       aci.signedPreKeyEntity(t, 100),
		PNISignedPreKey:       pni.signedPreKeyEntity(t, 100),
		SkipDeviceTransfer:    true,
	}

	rec := do(srv, http.MethodPut, "/v1/registration", req, func(r *http.Request) {
		r.SetBasicAuth("+15550101234", "registration-password")
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PrimaryRegistrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "+15550101234", resp.Number)
	assert.NotEmpty(t, resp.UUID)
	assert.NotEmpty(t, resp.PNI)

	// The same number with different credentials conflicts.
	rec = do(srv, http.MethodPut, "/v1/registration", req, func(r *http.Request) {
		r.SetBasicAuth("+15550101234", "other-password")
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Re-registration with the primary's password as recovery succeeds.
	req.RecoveryPassword = "registration-password"
	rec = do(srv, http.MethodPut, "/v1/registration", req, func(r *http.Request) {
		r.SetBasicAuth("+15550101234", "new-password")
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPreKeyUploadAndFetch(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestIdentity(t)
	account, device, password := registerTestAccount(t, srv, alice)

	upload := PreKeyUpload{
		IdentityKey:  base64.RawStdEncoding.EncodeToString(alice.public),
		SignedPreKey: alice.signedPreKeyEntity(t, 100),
	}
	for i := 1; i <= 5; i++ {
		upload.PreKeys = append(upload.PreKeys, alice.preKeyEntity(t, i))
	}

	rec := do(srv, http.MethodPut, "/v2/keys?identity=aci", upload, asDevice(device, password))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Fetch one bundle: one-time key 1 consumed, signed prekey 100 served.
	bob := newTestIdentity(t)
	_, bobDevice, bobPassword := registerTestAccount(t, srv, bob)

	rec = do(srv, http.MethodGet, fmt.Sprintf("/v2/keys/%s/1", account.ACI), nil, asDevice(bobDevice, bobPassword))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PreKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 1)
	d := resp.Devices[0]
	assert.Equal(t, 1, d.DeviceID)
	assert.Equal(t, 1234, d.RegistrationID)
	require.NotNil(t, d.PreKey)
	assert.Equal(t, 1, d.PreKey.KeyID)
	require.NotNil(t, d.SignedPreKey)
	assert.Equal(t, 100, d.SignedPreKey.KeyID)

	// The one-time queue is now [2,3,4,5].
	ec, _, err := srv.State().PreKeyCounts(account.ACI, 1, state.IdentityACI)
	require.NoError(t, err)
	assert.Equal(t, 4, ec)

	// Unknown account is a 404.
	rec = do(srv, http.MethodGet, "/v2/keys/11111111-2222-3333-4444-555555555555/1", nil, asDevice(bobDevice, bobPassword))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreKeyUploadRejectsBadSignature(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestIdentity(t)
	mallory := newTestIdentity(t)
	_, device, password := registerTestAccount(t, srv, alice)

	// Signed by the wrong identity key.
	upload := PreKeyUpload{
		IdentityKey:  base64.RawStdEncoding.EncodeToString(alice.public),
		SignedPreKey: mallory.signedPreKeyEntity(t, 1),
	}
	rec := do(srv, http.MethodPut, "/v2/keys?identity=aci", upload, asDevice(device, password))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestPreKeyEndpointsRequireAuth(t *testing.T) {
	srv := newTestServer(t)
	rec := do(srv, http.MethodPut, "/v2/keys?identity=aci", PreKeyUpload{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMessageDeviceMismatch(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)
	aliceAccount, aliceDevice, alicePassword := registerTestAccount(t, srv, alice)
	bobAccount, _, _ := registerTestAccount(t, srv, bob)
	_ = aliceAccount

	content := base64.StdEncoding.EncodeToString([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	// Unknown extra device.
	list := IncomingMessageList{
		Destination: bobAccount.ACI.String(),
		Messages: []IncomingMessage{
			{Type: 6, DestinationDeviceID: 1, DestinationRegistrationID: 1234, Content: content},
			{Type: 6, DestinationDeviceID: 2, DestinationRegistrationID: 1, Content: content},
		},
	}
	rec := do(srv, http.MethodPut, "/v1/messages/"+bobAccount.ACI.String(), list, asDevice(aliceDevice, alicePassword))
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	var mismatch state.DeviceMismatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mismatch))
	assert.Equal(t, []int{2}, mismatch.ExtraDevices)

	// Stale registration id.
	list.Messages = []IncomingMessage{
		{Type: 6, DestinationDeviceID: 1, DestinationRegistrationID: 9999, Content: content},
	}
	rec = do(srv, http.MethodPut, "/v1/messages/"+bobAccount.ACI.String(), list, asDevice(aliceDevice, alicePassword))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mismatch))
	assert.Equal(t, []int{1}, mismatch.StaleDevices)

	// Correct set queues the envelope.
	list.Messages = []IncomingMessage{
		{Type: 6, DestinationDeviceID: 1, DestinationRegistrationID: 1234, Content: content},
	}
	rec = do(srv, http.MethodPut, "/v1/messages/"+bobAccount.ACI.String(), list, asDevice(aliceDevice, alicePassword))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	queued, err := srv.State().QueuedMessages(bobAccount.ACI, 1)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, queued[0].Content)
	assert.Equal(t, aliceAccount.ACI.String(), queued[0].SourceServiceID)
}

func TestSealedSenderSend(t *testing.T) {
	srv := newTestServer(t)
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)
	registerTestAccount(t, srv, alice)
	bobAccount, _, _ := registerTestAccount(t, srv, bob)

	// Bind an access key to Bob.
	profileKey := bytes.Repeat([]byte{9}, 32)
	bobAccount.ProfileKey = profileKey

	accessKey := deriveTestAccessKey(t, profileKey)
	list := IncomingMessageList{
		Messages: []IncomingMessage{
			{Type: 6, DestinationDeviceID: 1, DestinationRegistrationID: 1234,
				Content: base64.StdEncoding.EncodeToString([]byte("sealed"))},
		},
	}

	rec := do(srv, http.MethodPut, "/v1/messages/"+bobAccount.ACI.String(), list, func(r *http.Request) {
		r.Header.Set("Unidentified-Access-Key", base64.StdEncoding.EncodeToString(accessKey))
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	queued, err := srv.State().QueuedMessages(bobAccount.ACI, 1)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	// Sealed sends carry no source.
	assert.Empty(t, queued[0].SourceServiceID)

	// A wrong access key is rejected.
	rec = do(srv, http.MethodPut, "/v1/messages/"+bobAccount.ACI.String(), list, func(r *http.Request) {
		r.Header.Set("Unidentified-Access-Key", base64.StdEncoding.EncodeToString(make([]byte, 16)))
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMessageFetchAndAck(t *testing.T) {
	srv := newTestServer(t)
	bob := newTestIdentity(t)
	bobAccount, bobDevice, bobPassword := registerTestAccount(t, srv, bob)

	require.NoError(t, srv.State().QueueMessage(state.ACIFor(bobAccount.ACI), &state.Envelope{
		Type: 6, DeviceID: 1, Content: []byte("hello"),
	}))

	rec := do(srv, http.MethodGet, "/v1/messages", nil, asDevice(bobDevice, bobPassword))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []envelopeJSON `json:"messages"`
		More     bool           `json:"more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)

	rec = do(srv, http.MethodDelete, "/v1/messages/uuid/"+resp.Messages[0].GUID, nil, asDevice(bobDevice, bobPassword))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	queued, err := srv.State().QueuedMessages(bobAccount.ACI, 1)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestStorageConflictFlow(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	_, device, password := registerTestAccount(t, srv, id)

	write := func(version uint64, items ...*proto.StorageItem) *httptest.ResponseRecorder {
		op := &proto.WriteOperation{
			Manifest:   &proto.StorageManifest{Version: version, Value: []byte(fmt.Sprintf("manifest-%d", version))},
			InsertItem: items,
		}
		body, err := gproto.Marshal(op)
		require.NoError(t, err)
		return do(srv, http.MethodPut, "/v1/storage", body, asDevice(device, password), func(r *http.Request) {
			r.Header.Set("Content-Type", "application/x-protobuf")
		})
	}

	require.Equal(t, http.StatusOK, write(3).Code)

	// Write at the current version: 409 with the current manifest body.
	rec := write(3, &proto.StorageItem{Key: []byte("k"), Value: []byte("v")})
	require.Equal(t, http.StatusConflict, rec.Code)
	var current proto.StorageManifest
	require.NoError(t, gproto.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, uint64(3), current.GetVersion())

	// Retry at version 4.
	require.Equal(t, http.StatusOK, write(4, &proto.StorageItem{Key: []byte("k"), Value: []byte("v")}).Code)

	// GET manifest/version/3 now returns the v4 manifest.
	rec = do(srv, http.MethodGet, "/v1/storage/manifest/version/3", nil, asDevice(device, password))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, gproto.Unmarshal(rec.Body.Bytes(), &current))
	assert.Equal(t, uint64(4), current.GetVersion())

	// A client already at v4 sees 204.
	rec = do(srv, http.MethodGet, "/v1/storage/manifest/version/4", nil, asDevice(device, password))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Read back the inserted item byte-identical.
	readOp := &proto.ReadOperation{ReadKey: [][]byte{[]byte("k")}}
	body, err := gproto.Marshal(readOp)
	require.NoError(t, err)
	rec = do(srv, http.MethodPut, "/v1/storage/read", body, asDevice(device, password))
	require.Equal(t, http.StatusOK, rec.Code)
	var items proto.StorageItems
	require.NoError(t, gproto.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items.GetItems(), 1)
	assert.Equal(t, []byte("v"), items.GetItems()[0].GetValue())
}

func TestUsernameReserveBounds(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	_, device, password := registerTestAccount(t, srv, id)

	reserve := func(n int) *httptest.ResponseRecorder {
		req := ReserveUsernameRequest{}
		for i := 0; i < n; i++ {
			req.UsernameHashes = append(req.UsernameHashes,
				base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("hash-%02d", i))))
		}
		return do(srv, http.MethodPut, "/v1/accounts/username_hash/reserve", req, asDevice(device, password))
	}

	assert.Equal(t, http.StatusUnprocessableEntity, reserve(0).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, reserve(21).Code)

	rec := reserve(1)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ReserveUsernameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.UsernameHash)
	assert.Equal(t, http.StatusOK, reserve(20).Code)
}

func TestConfirmUsernameRejectsBadProof(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	_, device, password := registerTestAccount(t, srv, id)

	hash := base64.RawURLEncoding.EncodeToString([]byte("wanted-hash"))
	rec := do(srv, http.MethodPut, "/v1/accounts/username_hash/reserve",
		ReserveUsernameRequest{UsernameHashes: []string{hash}}, asDevice(device, password))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodPut, "/v1/accounts/username_hash/confirm", ConfirmUsernameRequest{
		UsernameHash: hash,
		ZkProof:      base64.RawURLEncoding.EncodeToString([]byte("not-a-proof")),
	}, asDevice(device, password))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAttachmentRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	_, device, password := registerTestAccount(t, srv, id)

	rec := do(srv, http.MethodGet, "/v3/attachments/form/upload", nil, asDevice(device, password))
	require.Equal(t, http.StatusOK, rec.Code)
	var form AttachmentUploadForm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &form))
	require.NotEmpty(t, form.Key)

	blob := []byte("encrypted attachment bytes")
	rec = do(srv, http.MethodPut, "/attachments/upload/"+form.Key, blob)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodGet, "/attachments/"+form.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, blob, rec.Body.Bytes())

	rec = do(srv, http.MethodGet, "/attachments/0000000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWhoAmIAndDevices(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	account, device, password := registerTestAccount(t, srv, id)

	rec := do(srv, http.MethodGet, "/v1/accounts/whoami", nil, asDevice(device, password))
	require.Equal(t, http.StatusOK, rec.Code)
	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &who))
	assert.Equal(t, account.ACI.String(), who.UUID)
	assert.Equal(t, account.Number, who.Number)

	rec = do(srv, http.MethodGet, "/v1/devices", nil, asDevice(device, password))
	require.Equal(t, http.StatusOK, rec.Code)
	var devices DeviceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices.Devices, 1)
	assert.Equal(t, 1, devices.Devices[0].ID)
}

func TestSenderCertificateDelivery(t *testing.T) {
	srv := newTestServer(t)
	id := newTestIdentity(t)
	_, device, password := registerTestAccount(t, srv, id)

	rec := do(srv, http.MethodGet, "/v1/certificate/delivery", nil, asDevice(device, password))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SenderCertificateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	cert, err := base64.StdEncoding.DecodeString(resp.Certificate)
	require.NoError(t, err)
	assert.NotEmpty(t, cert)
}

func TestKeepalive(t *testing.T) {
	srv := newTestServer(t)
	rec := do(srv, http.MethodGet, "/v1/keepalive", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func deriveTestAccessKey(t *testing.T, profileKey []byte) []byte {
	t.Helper()
	key, err := signalcrypto.DeriveAccessKey(profileKey)
	require.NoError(t, err)
	return key
}
