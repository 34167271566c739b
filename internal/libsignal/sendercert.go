package libsignal

/*
#include "libsignal-ffi.h"
*/
import "C"

// ServerCertificate wraps a sealed-sender server certificate: an
// intermediate signing key endorsed by the trust root.
type ServerCertificate struct {
	ptr *C.SignalServerCertificate
}

// NewServerCertificate mints a server certificate binding serverKey under
// the trust root private key.
func NewServerCertificate(keyID uint32, serverKey *PublicKey, trustRoot *PrivateKey) (*ServerCertificate, error) {
	var out C.SignalMutPointerServerCertificate
	cServerKey := C.SignalConstPointerPublicKey{raw: serverKey.ptr}
	cTrustRoot := C.SignalConstPointerPrivateKey{raw: trustRoot.ptr}
	if err := wrapError(C.signal_server_certificate_new(&out, C.uint32_t(keyID), cServerKey, cTrustRoot)); err != nil {
		return nil, err
	}
	return &ServerCertificate{ptr: out.raw}, nil
}

// DeserializeServerCertificate reconstructs a server certificate from its
// serialized protobuf form.
func DeserializeServerCertificate(data []byte) (*ServerCertificate, error) {
	var out C.SignalMutPointerServerCertificate
	if err := wrapError(C.signal_server_certificate_deserialize(&out, borrowedBuffer(data))); err != nil {
		return nil, err
	}
	return &ServerCertificate{ptr: out.raw}, nil
}

// Serialize returns the serialized ServerCertificate protobuf.
func (sc *ServerCertificate) Serialize() ([]byte, error) {
	var buf C.SignalOwnedBuffer
	cPtr := C.SignalConstPointerServerCertificate{raw: sc.ptr}
	if err := wrapError(C.signal_server_certificate_get_serialized(&buf, cPtr)); err != nil {
		return nil, err
	}
	return freeOwnedBuffer(buf), nil
}

// Destroy frees the underlying C resource.
func (sc *ServerCertificate) Destroy() {
	if sc.ptr != nil {
		C.signal_server_certificate_destroy(C.SignalMutPointerServerCertificate{raw: sc.ptr})
		sc.ptr = nil
	}
}

// SenderCertificate wraps a sealed-sender sender certificate.
type SenderCertificate struct {
	ptr *C.SignalSenderCertificate
}

// NewSenderCertificate mints a sender certificate for a device. senderUUID
// is the ACI string, senderE164 may be empty, identityKey is the device's
// ACI identity public key, expiration is epoch milliseconds. The signer
// certificate's private key does the signing.
func NewSenderCertificate(senderUUID, senderE164 string, deviceID uint32, identityKey *PublicKey, expiration uint64, signer *ServerCertificate, signerKey *PrivateKey) (*SenderCertificate, error) {
	var out C.SignalMutPointerSenderCertificate

	cUUID := C.CString(senderUUID)
	defer freeCString(cUUID)
	var cE164 *C.char
	if senderE164 != "" {
		cE164 = C.CString(senderE164)
		defer freeCString(cE164)
	}

	cIdentity := C.SignalConstPointerPublicKey{raw: identityKey.ptr}
	cSigner := C.SignalConstPointerServerCertificate{raw: signer.ptr}
	cSignerKey := C.SignalConstPointerPrivateKey{raw: signerKey.ptr}

	if err := wrapError(C.signal_sender_certificate_new(
		&out, cUUID, cE164, C.uint32_t(deviceID), cIdentity,
		C.uint64_t(expiration), cSigner, cSignerKey)); err != nil {
		return nil, err
	}
	return &SenderCertificate{ptr: out.raw}, nil
}

// Serialize returns the serialized SenderCertificate protobuf.
func (sc *SenderCertificate) Serialize() ([]byte, error) {
	var buf C.SignalOwnedBuffer
	cPtr := C.SignalConstPointerSenderCertificate{raw: sc.ptr}
	if err := wrapError(C.signal_sender_certificate_get_serialized(&buf, cPtr)); err != nil {
		return nil, err
	}
	return freeOwnedBuffer(buf), nil
}

// Validate checks the certificate against a trust root and timestamp.
func (sc *SenderCertificate) Validate(trustRoot *PublicKey, timestamp uint64) (bool, error) {
	var out C.bool
	cCert := C.SignalConstPointerSenderCertificate{raw: sc.ptr}
	cKey := C.SignalConstPointerPublicKey{raw: trustRoot.ptr}
	cTrustRoots := C.SignalBorrowedSliceOfConstPointerPublicKey{
		base:   &cKey,
		length: 1,
	}
	if err := wrapError(C.signal_sender_certificate_validate(&out, cCert, cTrustRoots, C.uint64_t(timestamp))); err != nil {
		return false, err
	}
	return bool(out), nil
}

// Destroy frees the underlying C resource.
func (sc *SenderCertificate) Destroy() {
	if sc.ptr != nil {
		C.signal_sender_certificate_destroy(C.SignalMutPointerSenderCertificate{raw: sc.ptr})
		sc.ptr = nil
	}
}
