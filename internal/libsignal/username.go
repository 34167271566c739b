package libsignal

/*
#include "libsignal-ffi.h"
*/
import "C"
import "fmt"

// VerifyUsernameProof checks a zero-knowledge username proof against its
// hash. Returns nil when the proof verifies.
func VerifyUsernameProof(proof, hash []byte) error {
	if err := wrapError(C.signal_username_verify_proof(borrowedBuffer(proof), borrowedBuffer(hash))); err != nil {
		return fmt.Errorf("verify username proof: %w", err)
	}
	return nil
}
