package libsignal

/*
#include "libsignal-ffi.h"
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// ServiceIDKind selects the one-byte prefix of a fixed-width service id.
type ServiceIDKind byte

const (
	ServiceIDKindACI ServiceIDKind = 0x00
	ServiceIDKindPNI ServiceIDKind = 0x01
)

// ServiceIDFixedWidth builds the 17-byte fixed-width binary service id
// (1 byte kind prefix + 16 byte UUID) the zkgroup FFI expects.
func ServiceIDFixedWidth(kind ServiceIDKind, uuid [16]byte) [17]byte {
	var out [17]byte
	out[0] = byte(kind)
	copy(out[1:], uuid[:])
	return out
}

// ServerSecretParams wraps the zkgroup server secret params used to issue
// and verify anonymous credentials for groups and profile keys.
type ServerSecretParams struct {
	ptr *C.SignalServerSecretParams
}

// GenerateServerSecretParams derives server secret params from 32 bytes of
// randomness. Deterministic given the randomness.
func GenerateServerSecretParams(randomness [32]byte) (*ServerSecretParams, error) {
	var out C.SignalMutPointerServerSecretParams
	rnd := (*[32]C.uchar)(unsafe.Pointer(&randomness[0]))
	if err := wrapError(C.signal_server_secret_params_generate_deterministic(&out, rnd)); err != nil {
		return nil, fmt.Errorf("generate server secret params: %w", err)
	}
	return &ServerSecretParams{ptr: out.raw}, nil
}

// DeserializeServerSecretParams reconstructs server secret params from
// serialized form.
func DeserializeServerSecretParams(data []byte) (*ServerSecretParams, error) {
	var out C.SignalMutPointerServerSecretParams
	if err := wrapError(C.signal_server_secret_params_deserialize(&out, borrowedBuffer(data))); err != nil {
		return nil, fmt.Errorf("deserialize server secret params: %w", err)
	}
	return &ServerSecretParams{ptr: out.raw}, nil
}

// Serialize returns the serialized secret params.
func (p *ServerSecretParams) Serialize() ([]byte, error) {
	var buf C.SignalOwnedBuffer
	cPtr := C.SignalConstPointerServerSecretParams{raw: p.ptr}
	if err := wrapError(C.signal_server_secret_params_serialize(&buf, cPtr)); err != nil {
		return nil, err
	}
	return freeOwnedBuffer(buf), nil
}

// PublicParams returns the serialized public params clients pin.
func (p *ServerSecretParams) PublicParams() ([]byte, error) {
	var out C.SignalMutPointerServerPublicParams
	cPtr := C.SignalConstPointerServerSecretParams{raw: p.ptr}
	if err := wrapError(C.signal_server_secret_params_get_public_params(&out, cPtr)); err != nil {
		return nil, err
	}
	var buf C.SignalOwnedBuffer
	pubPtr := C.SignalConstPointerServerPublicParams{raw: out.raw}
	serErr := wrapError(C.signal_server_public_params_serialize(&buf, pubPtr))
	C.signal_server_public_params_destroy(C.SignalMutPointerServerPublicParams{raw: out.raw})
	if serErr != nil {
		return nil, serErr
	}
	return freeOwnedBuffer(buf), nil
}

// IssueAuthCredentialWithPni issues an auth credential binding an ACI+PNI
// pair at the given redemption time (epoch seconds, day-aligned).
func (p *ServerSecretParams) IssueAuthCredentialWithPni(randomness [32]byte, aci, pni [17]byte, redemptionTime uint64) ([]byte, error) {
	var buf C.SignalOwnedBuffer
	cPtr := C.SignalConstPointerServerSecretParams{raw: p.ptr}
	rnd := (*[32]C.uchar)(unsafe.Pointer(&randomness[0]))
	aciPtr := (*C.SignalServiceIdFixedWidthBinaryBytes)(unsafe.Pointer(&aci[0]))
	pniPtr := (*C.SignalServiceIdFixedWidthBinaryBytes)(unsafe.Pointer(&pni[0]))
	if err := wrapError(C.signal_server_secret_params_issue_auth_credential_with_pni_zkc_deterministic(
		&buf, cPtr, rnd, aciPtr, pniPtr, C.uint64_t(redemptionTime))); err != nil {
		return nil, fmt.Errorf("issue auth credential: %w", err)
	}
	return freeOwnedBuffer(buf), nil
}

// VerifyAuthCredentialPresentation checks an auth credential presentation
// against a group's public params at the given time (epoch seconds).
func (p *ServerSecretParams) VerifyAuthCredentialPresentation(groupPublicParams, presentation []byte, now uint64) error {
	cPtr := C.SignalConstPointerServerSecretParams{raw: p.ptr}
	if len(groupPublicParams) != 97 {
		return fmt.Errorf("verify auth presentation: group public params must be 97 bytes, got %d", len(groupPublicParams))
	}
	gpp := (*[97]C.uchar)(unsafe.Pointer(&groupPublicParams[0]))
	if err := wrapError(C.signal_server_secret_params_verify_auth_credential_presentation(
		cPtr, gpp, borrowedBuffer(presentation), C.uint64_t(now))); err != nil {
		return fmt.Errorf("verify auth presentation: %w", err)
	}
	return nil
}

// IssueExpiringProfileKeyCredential issues a profile key credential from a
// client request and the stored profile key commitment.
func (p *ServerSecretParams) IssueExpiringProfileKeyCredential(randomness [32]byte, request []byte, aci [17]byte, commitment []byte, expiration uint64) ([]byte, error) {
	var buf C.SignalOwnedBuffer
	cPtr := C.SignalConstPointerServerSecretParams{raw: p.ptr}
	rnd := (*[32]C.uchar)(unsafe.Pointer(&randomness[0]))
	aciPtr := (*C.SignalServiceIdFixedWidthBinaryBytes)(unsafe.Pointer(&aci[0]))
	if err := wrapError(C.signal_server_secret_params_issue_expiring_profile_key_credential_deterministic(
		&buf, cPtr, rnd, borrowedBuffer(request), aciPtr, borrowedBuffer(commitment), C.uint64_t(expiration))); err != nil {
		return nil, fmt.Errorf("issue profile key credential: %w", err)
	}
	return freeOwnedBuffer(buf), nil
}

// VerifyProfileKeyCredentialPresentation checks a profile key credential
// presentation against a group's public params.
func (p *ServerSecretParams) VerifyProfileKeyCredentialPresentation(groupPublicParams, presentation []byte, now uint64) error {
	cPtr := C.SignalConstPointerServerSecretParams{raw: p.ptr}
	if len(groupPublicParams) != 97 {
		return fmt.Errorf("verify profile key presentation: group public params must be 97 bytes, got %d", len(groupPublicParams))
	}
	gpp := (*[97]C.uchar)(unsafe.Pointer(&groupPublicParams[0]))
	if err := wrapError(C.signal_server_secret_params_verify_profile_key_credential_presentation(
		cPtr, gpp, borrowedBuffer(presentation), C.uint64_t(now))); err != nil {
		return fmt.Errorf("verify profile key presentation: %w", err)
	}
	return nil
}

// Sign produces the server's notary signature over message.
func (p *ServerSecretParams) Sign(randomness [32]byte, message []byte) ([]byte, error) {
	var buf C.SignalOwnedBuffer
	cPtr := C.SignalConstPointerServerSecretParams{raw: p.ptr}
	rnd := (*[32]C.uchar)(unsafe.Pointer(&randomness[0]))
	if err := wrapError(C.signal_server_secret_params_sign_deterministic(&buf, cPtr, rnd, borrowedBuffer(message))); err != nil {
		return nil, fmt.Errorf("server sign: %w", err)
	}
	return freeOwnedBuffer(buf), nil
}

// Destroy frees the underlying C resource.
func (p *ServerSecretParams) Destroy() {
	if p.ptr != nil {
		C.signal_server_secret_params_destroy(C.SignalMutPointerServerSecretParams{raw: p.ptr})
		p.ptr = nil
	}
}

// GenericServerSecretParams are the serialized generic credential params
// used for call links and backups. Unlike ServerSecretParams these are
// bridged by value as byte blobs.
type GenericServerSecretParams []byte

// GenerateGenericServerSecretParams derives generic server secret params
// from 32 bytes of randomness.
func GenerateGenericServerSecretParams(randomness [32]byte) (GenericServerSecretParams, error) {
	var buf C.SignalOwnedBuffer
	rnd := (*[32]C.uchar)(unsafe.Pointer(&randomness[0]))
	if err := wrapError(C.signal_generic_server_secret_params_generate_deterministic(&buf, rnd)); err != nil {
		return nil, fmt.Errorf("generate generic server secret params: %w", err)
	}
	return GenericServerSecretParams(freeOwnedBuffer(buf)), nil
}

// PublicParams returns the serialized generic public params.
func (p GenericServerSecretParams) PublicParams() ([]byte, error) {
	var buf C.SignalOwnedBuffer
	if err := wrapError(C.signal_generic_server_secret_params_get_public_params(&buf, borrowedBuffer(p))); err != nil {
		return nil, err
	}
	return freeOwnedBuffer(buf), nil
}

// IssueCallLinkAuthCredential issues a call link auth credential for a user
// at the given redemption time.
func (p GenericServerSecretParams) IssueCallLinkAuthCredential(randomness [32]byte, userID [17]byte, redemptionTime uint64) ([]byte, error) {
	var buf C.SignalOwnedBuffer
	rnd := (*[32]C.uchar)(unsafe.Pointer(&randomness[0]))
	uidPtr := (*C.SignalServiceIdFixedWidthBinaryBytes)(unsafe.Pointer(&userID[0]))
	if err := wrapError(C.signal_call_link_auth_credential_response_issue_deterministic(
		&buf, uidPtr, C.uint64_t(redemptionTime), borrowedBuffer(p), rnd)); err != nil {
		return nil, fmt.Errorf("issue call link auth credential: %w", err)
	}
	return freeOwnedBuffer(buf), nil
}

// IssueCreateCallLinkCredential answers a CreateCallLinkCredentialRequest.
func (p GenericServerSecretParams) IssueCreateCallLinkCredential(randomness [32]byte, request []byte, userID [17]byte, timestamp uint64) ([]byte, error) {
	var buf C.SignalOwnedBuffer
	rnd := (*[32]C.uchar)(unsafe.Pointer(&randomness[0]))
	uidPtr := (*C.SignalServiceIdFixedWidthBinaryBytes)(unsafe.Pointer(&userID[0]))
	if err := wrapError(C.signal_create_call_link_credential_response_issue_deterministic(
		&buf, borrowedBuffer(request), uidPtr, C.uint64_t(timestamp), borrowedBuffer(p), rnd)); err != nil {
		return nil, fmt.Errorf("issue create call link credential: %w", err)
	}
	return freeOwnedBuffer(buf), nil
}

// IssueBackupAuthCredential answers a blinded BackupAuthCredentialRequest
// for the given redemption time.
func (p GenericServerSecretParams) IssueBackupAuthCredential(randomness [32]byte, request []byte, redemptionTime uint64) ([]byte, error) {
	var buf C.SignalOwnedBuffer
	rnd := (*[32]C.uchar)(unsafe.Pointer(&randomness[0]))
	if err := wrapError(C.signal_backup_auth_credential_request_issue_deterministic(
		&buf, borrowedBuffer(request), C.uint64_t(redemptionTime), borrowedBuffer(p), rnd)); err != nil {
		return nil, fmt.Errorf("issue backup auth credential: %w", err)
	}
	return freeOwnedBuffer(buf), nil
}

// VerifyBackupAuthPresentation checks a backup credential presentation at
// the given time and returns nil when it verifies.
func (p GenericServerSecretParams) VerifyBackupAuthPresentation(presentation []byte, now uint64) error {
	if err := wrapError(C.signal_backup_auth_credential_presentation_verify(
		borrowedBuffer(presentation), C.uint64_t(now), borrowedBuffer(p))); err != nil {
		return fmt.Errorf("verify backup presentation: %w", err)
	}
	return nil
}
