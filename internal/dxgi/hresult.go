package dxgi

import (
	"errors"
	"fmt"
)

// HRESULT is a failed platform result code. Success is reported as a nil
// error, never as an HRESULT value.
type HRESULT uint32

const (
	EInvalidArg   HRESULT = 0x80070057
	EAccessDenied HRESULT = 0x80070005
	ENoInterface  HRESULT = 0x80004002
	EFail         HRESULT = 0x80004005
	EOutOfMemory  HRESULT = 0x8007000E

	ErrInvalidCall           HRESULT = 0x887A0001
	ErrNotFound              HRESULT = 0x887A0002
	ErrMoreData              HRESULT = 0x887A0003
	ErrUnsupported           HRESULT = 0x887A0004
	ErrDeviceRemoved         HRESULT = 0x887A0005
	ErrDeviceHung            HRESULT = 0x887A0006
	ErrDeviceReset           HRESULT = 0x887A0007
	ErrWasStillDrawing       HRESULT = 0x887A000A
	ErrNotCurrentlyAvailable HRESULT = 0x887A0022
	ErrAccessLost            HRESULT = 0x887A0026
	ErrWaitTimeout           HRESULT = 0x887A0027
	ErrSessionDisconnected   HRESULT = 0x887A0028
)

var hresultNames = map[HRESULT]string{
	EInvalidArg:              "E_INVALIDARG",
	EAccessDenied:            "E_ACCESSDENIED",
	ENoInterface:             "E_NOINTERFACE",
	EFail:                    "E_FAIL",
	EOutOfMemory:             "E_OUTOFMEMORY",
	ErrInvalidCall:           "DXGI_ERROR_INVALID_CALL",
	ErrNotFound:              "DXGI_ERROR_NOT_FOUND",
	ErrMoreData:              "DXGI_ERROR_MORE_DATA",
	ErrUnsupported:           "DXGI_ERROR_UNSUPPORTED",
	ErrDeviceRemoved:         "DXGI_ERROR_DEVICE_REMOVED",
	ErrDeviceHung:            "DXGI_ERROR_DEVICE_HUNG",
	ErrDeviceReset:           "DXGI_ERROR_DEVICE_RESET",
	ErrWasStillDrawing:       "DXGI_ERROR_WAS_STILL_DRAWING",
	ErrNotCurrentlyAvailable: "DXGI_ERROR_NOT_CURRENTLY_AVAILABLE",
	ErrAccessLost:            "DXGI_ERROR_ACCESS_LOST",
	ErrWaitTimeout:           "DXGI_ERROR_WAIT_TIMEOUT",
	ErrSessionDisconnected:   "DXGI_ERROR_SESSION_DISCONNECTED",
}

// Error formats the code as "0x887A0026 (DXGI_ERROR_ACCESS_LOST)".
func (h HRESULT) Error() string {
	if name, ok := hresultNames[h]; ok {
		return fmt.Sprintf("0x%08X (%s)", uint32(h), name)
	}
	return fmt.Sprintf("0x%08X", uint32(h))
}

// Name returns the symbolic name, or the hex code for unknown values.
func (h HRESULT) Name() string {
	if name, ok := hresultNames[h]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(h))
}

// Code extracts the HRESULT from err, unwrapping as needed.
func Code(err error) (HRESULT, bool) {
	var hr HRESULT
	if errors.As(err, &hr) {
		return hr, true
	}
	return 0, false
}

// Is reports whether err carries the given code.
func Is(err error, code HRESULT) bool {
	hr, ok := Code(err)
	return ok && hr == code
}

// FromRaw converts a raw syscall return into an error. Non-negative values
// are success codes.
func FromRaw(ret uintptr) error {
	if int32(ret) >= 0 {
		return nil
	}
	return HRESULT(uint32(ret))
}
