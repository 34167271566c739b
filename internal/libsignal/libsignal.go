// Package libsignal wraps the parts of the native libsignal FFI the mock
// server needs: curve keys, certificate minting, and the zkgroup server
// operations. The library itself is an opaque dependency; this package only
// marshals bytes across the boundary.
package libsignal

// #cgo CFLAGS: -I${SRCDIR}
// #cgo linux LDFLAGS: ${SRCDIR}/../../libsignal/target/release/libsignal_ffi.a -ldl -lm -lpthread
// #cgo darwin LDFLAGS: ${SRCDIR}/../../libsignal/target/release/libsignal_ffi.a -framework Security -framework Foundation -lm
// #include "libsignal-ffi.h"
// #include <stdlib.h>
import "C"
