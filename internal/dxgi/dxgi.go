// Package dxgi is the boundary to the platform desktop duplication API.
//
// The interfaces mirror the handful of DXGI/D3D11 calls the capture engine
// makes. Platform failures surface as HRESULT errors so callers can classify
// them without knowing the underlying ABI. On Windows they are implemented
// with pure-Go COM vtable calls; on other platforms EnumOutputs reports
// ErrNotSupported.
package dxgi

import (
	"errors"

	"github.com/breeze-rmm/deskdupl/internal/logging"
)

var log = logging.L("dxgi")

// ErrNotSupported is returned when desktop duplication is unavailable on
// the platform.
var ErrNotSupported = errors.New("desktop duplication not supported on this platform")

// Adapter is a display adapter (IDXGIAdapter1).
type Adapter interface {
	LUID() LUID
	Name() string
	// CreateDevice creates a device and immediate context bound to this
	// adapter, independent of any other device in the process.
	CreateDevice() (Device, error)
}

// Output is a display output attached to an adapter (IDXGIOutput1).
type Output interface {
	Desc() OutputDesc
	// DuplicateOutput opens a duplication session on dev. The error is an
	// HRESULT for every platform refusal.
	DuplicateOutput(dev Device) (OutputDuplication, error)
}

// Device is a D3D11 device plus its immediate context.
type Device interface {
	CreateTexture2D(desc TextureDesc) (Texture, error)
	// CreateStagingTexture creates a CPU-readable texture matching desc's
	// size and format.
	CreateStagingTexture(desc TextureDesc) (Texture, error)
	// CopyResource issues a GPU-side copy from src into dst.
	CopyResource(dst, src Texture)
	Flush()
	// Map maps a staging texture for reading. Every successful Map must be
	// paired with Unmap.
	Map(tex Texture) (MappedTexture, error)
	Unmap(tex Texture)
	Release()
}

// Texture is an ID3D11Texture2D.
type Texture interface {
	Desc() TextureDesc
	// SharedHandle returns the handle another device can open, or 0 when
	// the texture was not created shareable.
	SharedHandle() uintptr
	Release()
}

// Resource is the IDXGIResource handed out by AcquireNextFrame.
type Resource interface {
	// Texture converts the resource into a typed texture. The returned
	// texture must be released independently of the resource.
	Texture() (Texture, error)
	Release()
}

// OutputDuplication is an IDXGIOutputDuplication session.
type OutputDuplication interface {
	// AcquireNextFrame blocks up to timeoutMs for a new desktop image.
	AcquireNextFrame(timeoutMs uint32) (FrameInfo, Resource, error)
	ReleaseFrame() error
	// GetFrameMoveRects fills buf with packed move rects and returns the
	// number of bytes written (or required, with ErrMoreData).
	GetFrameMoveRects(buf []byte) (int, error)
	// GetFrameDirtyRects fills buf with packed dirty rects and returns the
	// number of bytes written (or required, with ErrMoreData).
	GetFrameDirtyRects(buf []byte) (int, error)
	// GetFramePointerShape fills buf with the current pointer shape bitmap.
	GetFramePointerShape(buf []byte) (PointerShapeInfo, int, error)
	Release()
}

// AdapterOutput pairs an output with the adapter it is attached to.
type AdapterOutput struct {
	Adapter Adapter
	Output  Output
}

// EnumOutputs lists every output attached to the desktop, grouped by
// adapter in enumeration order.
func EnumOutputs() ([]AdapterOutput, error) {
	return enumOutputs()
}

// ThreadInit prepares the calling OS thread for duplication calls and
// returns the matching teardown. Callers must have locked the goroutine to
// its thread.
func ThreadInit() func() {
	return threadInit()
}
