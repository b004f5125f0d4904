//go:build windows

package dxgi

import (
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"
)

// COM vtable calling infrastructure for DXGI and D3D11.
// Objects are raw interface pointers (pointer to pointer to vtable).

var (
	dxgiDLL   = windows.NewLazySystemDLL("dxgi.dll")
	d3d11DLL  = windows.NewLazySystemDLL("d3d11.dll")
	shcoreDLL = windows.NewLazySystemDLL("shcore.dll")

	procCreateDXGIFactory1 = dxgiDLL.NewProc("CreateDXGIFactory1")
	procD3D11CreateDevice  = d3d11DLL.NewProc("D3D11CreateDevice")
	procGetDpiForMonitor   = shcoreDLL.NewProc("GetDpiForMonitor")
)

const (
	vtblQueryInterface = 0
	vtblRelease        = 2

	// IDXGIFactory1
	vtblFactoryEnumAdapters1 = 12

	// IDXGIAdapter / IDXGIAdapter1
	vtblAdapterEnumOutputs = 7
	vtblAdapterGetDesc1    = 10

	// IDXGIOutput / IDXGIOutput1
	vtblOutputGetDesc          = 7
	vtblOutput1DuplicateOutput = 22

	// IDXGIOutputDuplication
	vtblDuplGetDesc              = 7
	vtblDuplAcquireNextFrame     = 8
	vtblDuplGetFrameDirtyRects   = 9
	vtblDuplGetFrameMoveRects    = 10
	vtblDuplGetFramePointerShape = 11
	vtblDuplReleaseFrame         = 14

	// IDXGIResource
	vtblResourceGetSharedHandle = 8

	// ID3D11Device
	vtblDeviceCreateTexture2D = 5

	// ID3D11DeviceContext
	vtblCtxMap          = 14
	vtblCtxUnmap        = 15
	vtblCtxCopyResource = 47
	vtblCtxFlush        = 111

	// ID3D11Texture2D
	vtblTextureGetDesc = 10
)

const (
	d3dDriverTypeUnknown = 0
	d3dFeatureLevel11_0  = 0xb000
	d3d11SDKVersion      = 7

	d3d11CreateDeviceBGRASupport = 0x20
)

var (
	iidIDXGIFactory1   = ole.NewGUID("{770AAE78-F26F-4DBA-A829-253C83D1B387}")
	iidIDXGIOutput1    = ole.NewGUID("{00CDDEA8-939B-4B83-A340-A685226666CC}")
	iidIDXGIResource   = ole.NewGUID("{035F3AB4-482E-4E50-B41F-8A7F8BD8960B}")
	iidID3D11Texture2D = ole.NewGUID("{6F15AAF2-D208-4E89-9AB4-489535D34F9C}")
)

// comVtblFn resolves a COM vtable function pointer by index.
func comVtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comCall invokes the vtable method at idx and maps a failing HRESULT to
// an HRESULT error.
func comCall(obj uintptr, idx int, args ...uintptr) error {
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(comVtblFn(obj, idx), allArgs...)
	return FromRaw(ret)
}

// comVoid invokes a vtable method that has no HRESULT.
func comVoid(obj uintptr, idx int, args ...uintptr) {
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	syscall.SyscallN(comVtblFn(obj, idx), allArgs...)
}

// comRelease calls IUnknown::Release.
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, vtblRelease), obj)
	}
}

func comQuery(obj uintptr, iid *ole.GUID) (uintptr, error) {
	var out uintptr
	err := comCall(obj, vtblQueryInterface,
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&out)),
	)
	return out, err
}

// threadInit joins the multithreaded apartment. S_FALSE (already joined)
// still needs a matching CoUninitialize.
func threadInit() func() {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != 1 {
			return func() {}
		}
	}
	return ole.CoUninitialize
}
