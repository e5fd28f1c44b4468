// Package main provides FFI exports for mobile platforms (Android/iOS).
// All exported functions use C calling convention and can be called from Dart FFI.
// Every function returns a JSON string the caller must release with FreeString.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"unsafe"

	"github.com/avanzando/mobilecore/internal/bridge"
)

var core = bridge.New()

//export CoreInit
func CoreInit(configPath *C.char) *C.char {
	return C.CString(core.Init(C.GoString(configPath)))
}

//export CoreDispose
func CoreDispose() *C.char {
	return C.CString(core.Dispose())
}

//export CoreSubmit
func CoreSubmit(url, method, data *C.char) *C.char {
	return C.CString(core.Submit(C.GoString(url), C.GoString(method), C.GoString(data)))
}

//export CoreSyncNow
func CoreSyncNow() *C.char {
	return C.CString(core.SyncNow())
}

//export CoreStatus
func CoreStatus() *C.char {
	return C.CString(core.Status())
}

//export CorePending
func CorePending() *C.char {
	return C.CString(core.Pending())
}

// CoreSetConnected receives the platform reachability callback; 0 is offline.
//
//export CoreSetConnected
func CoreSetConnected(connected C.int) *C.char {
	return C.CString(core.SetConnected(connected != 0))
}

//export CoreSaveToken
func CoreSaveToken(token *C.char) *C.char {
	return C.CString(core.SaveToken(C.GoString(token)))
}

//export CoreClearToken
func CoreClearToken() *C.char {
	return C.CString(core.ClearToken())
}

//export CorePollEvents
func CorePollEvents() *C.char {
	return C.CString(core.PollEvents())
}

//export CoreLastError
func CoreLastError() *C.char {
	return C.CString(core.LastError())
}

//export FreeString
func FreeString(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
