package server

// JSON wire types for the REST surface. Field names and shapes follow the
// Signal service API the clients under test speak.

// AccountAttributes describes the account properties for registration.
type AccountAttributes struct {
	RegistrationID                 int          `json:"registrationId"`
	PNIRegistrationID              int          `json:"pniRegistrationId"`
	Voice                          bool         `json:"voice"`
	Video                          bool         `json:"video"`
	FetchesMessages                bool         `json:"fetchesMessages"`
	Name                           string       `json:"name,omitempty"` // base64 encrypted device name
	Capabilities                   Capabilities `json:"capabilities"`
	UnidentifiedAccessKey          string       `json:"unidentifiedAccessKey,omitempty"` // base64, 16 bytes
	UnrestrictedUnidentifiedAccess bool         `json:"unrestrictedUnidentifiedAccess,omitempty"`
	DiscoverableByPhoneNumber      *bool        `json:"discoverableByPhoneNumber,omitempty"`
}

// Capabilities declares supported features.
type Capabilities struct {
	Storage                  bool `json:"storage"`
	VersionedExpirationTimer bool `json:"versionedExpirationTimer"`
	AttachmentBackfill       bool `json:"attachmentBackfill"`
}

// SignedPreKeyEntity is the JSON representation of a signed EC pre-key.
type SignedPreKeyEntity struct {
	KeyID     int    `json:"keyId"`
	PublicKey string `json:"publicKey"` // base64 no-pad
	Signature string `json:"signature"` // base64 no-pad
}

// KyberPreKeyEntity is the JSON representation of a Kyber pre-key.
type KyberPreKeyEntity struct {
	KeyID     int    `json:"keyId"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// PreKeyEntity is the JSON representation of a one-time pre-key.
type PreKeyEntity struct {
	KeyID     int    `json:"keyId"`
	PublicKey string `json:"publicKey"`
}

// RegisterRequest is the JSON body for PUT /v1/devices/link.
type RegisterRequest struct {
	VerificationCode  string              `json:"verificationCode"`
	AccountAttributes AccountAttributes   `json:"accountAttributes"`
	ACISignedPreKey   *SignedPreKeyEntity `json:"aciSignedPreKey,omitempty"`
	PNISignedPreKey   *SignedPreKeyEntity `json:"pniSignedPreKey,omitempty"`
	ACIPqLastResort   *KyberPreKeyEntity  `json:"aciPqLastResortPreKey,omitempty"`
	PNIPqLastResort   *KyberPreKeyEntity  `json:"pniPqLastResortPreKey,omitempty"`
}

// RegisterResponse is the JSON response from PUT /v1/devices/link.
type RegisterResponse struct {
	UUID     string `json:"uuid"`
	PNI      string `json:"pni"`
	DeviceID int    `json:"deviceId"`
}

// PrimaryRegistrationRequest registers a new primary device.
type PrimaryRegistrationRequest struct {
	SessionID             string              `json:"sessionId,omitempty"`
	RecoveryPassword      string              `json:"recoveryPassword,omitempty"`
	AccountAttributes     AccountAttributes   `json:"accountAttributes"`
	ACIIdentityKey        string              `json:"aciIdentityKey"` // base64
	PNIIdentityKey        string              `json:"pniIdentityKey"` // base64
	ACISignedPreKey       *SignedPreKeyEntity `json:"aciSignedPreKey,omitempty"`
	PNISignedPreKey       *SignedPreKeyEntity `json:"pniSignedPreKey,omitempty"`
	ACIPqLastResortPreKey *KyberPreKeyEntity  `json:"aciPqLastResortPreKey,omitempty"`
	PNIPqLastResortPreKey *KyberPreKeyEntity  `json:"pniPqLastResortPreKey,omitempty"`
	SkipDeviceTransfer    bool                `json:"skipDeviceTransfer"`
	RequireAtomic         bool                `json:"requireAtomic,omitempty"`
}

// PrimaryRegistrationResponse is returned from PUT /v1/registration.
type PrimaryRegistrationResponse struct {
	UUID           string `json:"uuid"`
	PNI            string `json:"pni"`
	Number         string `json:"number"`
	StorageCapable bool   `json:"storageCapable"`
}

// VerificationSessionResponse is the state of a (always-verified) session.
type VerificationSessionResponse struct {
	ID                      string   `json:"id"`
	NextSms                 *int     `json:"nextSms"`
	NextCall                *int     `json:"nextCall"`
	NextVerificationAttempt *int     `json:"nextVerificationAttempt"`
	AllowedToRequestCode    bool     `json:"allowedToRequestCode"`
	RequestedInformation    []string `json:"requestedInformation"`
	Verified                bool     `json:"verified"`
}

// PreKeyUpload is the JSON body for PUT /v2/keys.
type PreKeyUpload struct {
	IdentityKey     string              `json:"identityKey,omitempty"` // base64, 33 bytes
	PreKeys         []PreKeyEntity      `json:"preKeys,omitempty"`
	SignedPreKey    *SignedPreKeyEntity `json:"signedPreKey,omitempty"`
	PqPreKeys       []KyberPreKeyEntity `json:"pqPreKeys,omitempty"`
	PqLastResortKey *KyberPreKeyEntity  `json:"pqLastResortPreKey,omitempty"`
}

// PreKeyCountResponse reports remaining one-time key counts.
type PreKeyCountResponse struct {
	Count   int `json:"count"`
	PqCount int `json:"pqCount"`
}

// PreKeyResponse is the JSON response from GET /v2/keys/{serviceId}/{deviceId}.
type PreKeyResponse struct {
	IdentityKey string             `json:"identityKey"`
	Devices     []PreKeyDeviceInfo `json:"devices"`
}

// PreKeyDeviceInfo contains pre-key material for a single device.
type PreKeyDeviceInfo struct {
	DeviceID       int                 `json:"deviceId"`
	RegistrationID int                 `json:"registrationId"`
	SignedPreKey   *SignedPreKeyEntity `json:"signedPreKey"`
	PreKey         *PreKeyEntity       `json:"preKey,omitempty"`
	PqPreKey       *KyberPreKeyEntity  `json:"pqPreKey,omitempty"`
}

// IncomingMessageList is the JSON body for PUT /v1/messages/{destination}.
type IncomingMessageList struct {
	Destination string            `json:"destination"`
	Timestamp   uint64            `json:"timestamp"`
	Messages    []IncomingMessage `json:"messages"`
	Online      bool              `json:"online"`
	Urgent      bool              `json:"urgent"`
}

// IncomingMessage is a single message in an IncomingMessageList.
type IncomingMessage struct {
	Type                      int32  `json:"type"`
	DestinationDeviceID       int    `json:"destinationDeviceId"`
	DestinationRegistrationID int    `json:"destinationRegistrationId"`
	Content                   string `json:"content"` // base64
}

// SendMessageResponse acknowledges an accepted send.
type SendMessageResponse struct {
	NeedsSync bool `json:"needsSync"`
}

// DeviceListResponse is the JSON response from GET /v1/devices.
type DeviceListResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

// DeviceInfo describes a registered device.
type DeviceInfo struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Created  int64  `json:"created"`
	LastSeen int64  `json:"lastSeen"`
}

// ProvisioningCodeResponse is returned from GET /v1/devices/provisioning/code.
type ProvisioningCodeResponse struct {
	VerificationCode string `json:"verificationCode"`
}

// WhoAmIResponse identifies the authenticated account.
type WhoAmIResponse struct {
	UUID   string `json:"uuid"`
	PNI    string `json:"pni"`
	Number string `json:"number"`
}

// SenderCertificateResponse carries a freshly minted sender certificate.
type SenderCertificateResponse struct {
	Certificate string `json:"certificate"` // base64 SenderCertificate protobuf
}

// GroupCredentialsResponse answers GET /v1/certificate/auth/group.
type GroupCredentialsResponse struct {
	Credentials []GroupCredential `json:"credentials"`
	PNI         string            `json:"pni"`
}

// GroupCredential is one issued auth credential.
type GroupCredential struct {
	Credential     string `json:"credential"` // base64
	RedemptionTime uint64 `json:"redemptionTime"`
}

// StorageAuthResponse answers GET /v1/storage/auth.
type StorageAuthResponse struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AttachmentUploadForm answers GET /v3/attachments/form/upload.
type AttachmentUploadForm struct {
	CDN                 int               `json:"cdn"`
	Key                 string            `json:"key"`
	Headers             map[string]string `json:"headers"`
	SignedUploadLocation string           `json:"signedUploadLocation"`
}

// ReserveUsernameRequest holds 1-20 candidate username hashes.
type ReserveUsernameRequest struct {
	UsernameHashes []string `json:"usernameHashes"` // base64url
}

// ReserveUsernameResponse names the hash the server reserved.
type ReserveUsernameResponse struct {
	UsernameHash string `json:"usernameHash"`
}

// ConfirmUsernameRequest promotes a reservation with its zk proof.
type ConfirmUsernameRequest struct {
	UsernameHash      string `json:"usernameHash"`
	ZkProof           string `json:"zkProof"`
	EncryptedUsername string `json:"encryptedUsername,omitempty"`
}

// ConfirmUsernameResponse returns the link handle when an encrypted
// username was supplied.
type ConfirmUsernameResponse struct {
	UsernameLinkHandle string `json:"usernameLinkHandle,omitempty"`
}

// UsernameLinkRequest replaces the account's encrypted username blob.
type UsernameLinkRequest struct {
	UsernameLinkEncryptedValue string `json:"usernameLinkEncryptedValue"`
}

// UsernameLinkResponse returns the handle for a stored link blob.
type UsernameLinkResponse struct {
	UsernameLinkHandle string `json:"usernameLinkHandle"`
}

// UsernameLinkValueResponse resolves a handle to the stored blob.
type UsernameLinkValueResponse struct {
	UsernameLinkEncryptedValue string `json:"usernameLinkEncryptedValue"`
}

// UsernameHashLookupResponse resolves a hash to its owner.
type UsernameHashLookupResponse struct {
	UUID string `json:"uuid"`
}

// ProfileWrite is the JSON body for PUT /v1/profile.
type ProfileWrite struct {
	Version            string   `json:"version"`
	Name               []byte   `json:"name"`
	About              []byte   `json:"about"`
	AboutEmoji         []byte   `json:"aboutEmoji"`
	PhoneNumberSharing []byte   `json:"phoneNumberSharing"`
	Avatar             bool     `json:"avatar"`
	SameAvatar         bool     `json:"sameAvatar"`
	Commitment         []byte   `json:"commitment"`
	BadgeIDs           []string `json:"badgeIds"`
}

// ProfileResponse is the JSON response from GET /v1/profile/{aci}/{version}.
type ProfileResponse struct {
	IdentityKey                    string `json:"identityKey"`
	Name                           string `json:"name,omitempty"`
	About                          string `json:"about,omitempty"`
	AboutEmoji                     string `json:"aboutEmoji,omitempty"`
	Avatar                         string `json:"avatar,omitempty"`
	UnidentifiedAccess             string `json:"unidentifiedAccess,omitempty"`
	UnrestrictedUnidentifiedAccess bool   `json:"unrestrictedUnidentifiedAccess"`
	Credential                     string `json:"credential,omitempty"` // base64 profile key credential response
}

// BackupIDRequest binds blinded backup credential requests to the account.
type BackupIDRequest struct {
	MessagesBackupAuthCredentialRequest string `json:"messagesBackupAuthCredentialRequest"` // base64
	MediaBackupAuthCredentialRequest    string `json:"mediaBackupAuthCredentialRequest"`    // base64
}

// BackupKeyRequest binds the backup-id public key.
type BackupKeyRequest struct {
	BackupIDPublicKey string `json:"backupIdPublicKey"` // base64
}

// BackupCredentialsResponse answers GET /v1/archives/auth.
type BackupCredentialsResponse struct {
	Credentials []BackupCredential `json:"credentials"`
}

// BackupCredential is one issued backup auth credential.
type BackupCredential struct {
	Credential     string `json:"credential"`
	RedemptionTime uint64 `json:"redemptionTime"`
}

// BackupInfoResponse answers GET /v1/archives.
type BackupInfoResponse struct {
	BackupDir string `json:"backupDir"`
	MediaDir  string `json:"mediaDir"`
	BackupName string `json:"backupName"`
	UsedSpace int64  `json:"usedSpace"`
}

// CreateCallLinkAuthRequest asks for a create-call-link credential.
type CreateCallLinkAuthRequest struct {
	CreateCallLinkCredentialRequest string `json:"createCallLinkCredentialRequest"` // base64
}

// CreateCallLinkAuthResponse returns the issued credential.
type CreateCallLinkAuthResponse struct {
	RedemptionTime                   uint64 `json:"redemptionTime"`
	CreateCallLinkCredentialResponse string `json:"createCallLinkCredentialResponse"` // base64
}

// CallLinkAuthResponse answers GET /v1/call-link/auth.
type CallLinkAuthResponse struct {
	RedemptionTime                 uint64 `json:"redemptionTime"`
	CallLinkAuthCredentialResponse string `json:"callLinkAuthCredentialResponse"` // base64
}
