package libsignal

/*
#include "libsignal-ffi.h"
*/
import "C"

// PublicKey wraps a libsignal EC public key (33 bytes serialized, 0x05 prefix).
type PublicKey struct {
	ptr *C.SignalPublicKey
}

// DeserializePublicKey reconstructs a public key from its 33-byte serialized form.
func DeserializePublicKey(data []byte) (*PublicKey, error) {
	var out C.SignalMutPointerPublicKey
	borrowed := borrowedBuffer(data)
	if err := wrapError(C.signal_publickey_deserialize(&out, borrowed)); err != nil {
		return nil, err
	}
	return &PublicKey{ptr: out.raw}, nil
}

// Serialize returns the 33-byte serialized form of the public key.
func (k *PublicKey) Serialize() ([]byte, error) {
	var buf C.SignalOwnedBuffer
	cPtr := C.SignalConstPointerPublicKey{raw: k.ptr}
	if err := wrapError(C.signal_publickey_serialize(&buf, cPtr)); err != nil {
		return nil, err
	}
	return freeOwnedBuffer(buf), nil
}

// Verify checks an XEd25519 signature over message.
func (k *PublicKey) Verify(message, signature []byte) (bool, error) {
	var out C.bool
	cPtr := C.SignalConstPointerPublicKey{raw: k.ptr}
	if err := wrapError(C.signal_publickey_verify(&out, cPtr, borrowedBuffer(message), borrowedBuffer(signature))); err != nil {
		return false, err
	}
	return bool(out), nil
}

// Destroy frees the underlying C resource.
func (k *PublicKey) Destroy() {
	if k.ptr != nil {
		C.signal_publickey_destroy(C.SignalMutPointerPublicKey{raw: k.ptr})
		k.ptr = nil
	}
}
