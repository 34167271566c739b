package libsignal

/*
#include <stdlib.h>
*/
import "C"
import "unsafe"

// freeCString releases a C string allocated with C.CString.
func freeCString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}
