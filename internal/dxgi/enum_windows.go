//go:build windows

package dxgi

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/deskdupl/internal/logging"
)

// dxgiAdapterDesc1 matches DXGI_ADAPTER_DESC1.
type dxgiAdapterDesc1 struct {
	Description           [128]uint16
	VendorID              uint32
	DeviceID              uint32
	SubSysID              uint32
	Revision              uint32
	DedicatedVideoMemory  uintptr
	DedicatedSystemMemory uintptr
	SharedSystemMemory    uintptr
	AdapterLuid           LUID
	Flags                 uint32
}

// dxgiOutputDesc matches DXGI_OUTPUT_DESC.
type dxgiOutputDesc struct {
	DeviceName        [32]uint16
	Left              int32
	Top               int32
	Right             int32
	Bottom            int32
	AttachedToDesktop int32
	Rotation          uint32
	Monitor           uintptr
}

type comAdapter struct {
	ptr  uintptr // IDXGIAdapter1
	luid LUID
	name string
}

func (a *comAdapter) LUID() LUID   { return a.luid }
func (a *comAdapter) Name() string { return a.name }

func (a *comAdapter) Release() {
	comRelease(a.ptr)
	a.ptr = 0
}

type comOutput struct {
	ptr  uintptr // IDXGIOutput1
	desc OutputDesc
}

func (o *comOutput) Desc() OutputDesc { return o.desc }

func (o *comOutput) Release() {
	comRelease(o.ptr)
	o.ptr = 0
}

func enumOutputs() ([]AdapterOutput, error) {
	var factory uintptr
	hr, _, _ := procCreateDXGIFactory1.Call(
		uintptr(unsafe.Pointer(iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if err := FromRaw(hr); err != nil {
		return nil, fmt.Errorf("CreateDXGIFactory1: %w", err)
	}
	defer comRelease(factory)

	var result []AdapterOutput
	for ai := 0; ; ai++ {
		var adapterPtr uintptr
		err := comCall(factory, vtblFactoryEnumAdapters1, uintptr(ai), uintptr(unsafe.Pointer(&adapterPtr)))
		if Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("EnumAdapters1(%d): %w", ai, err)
		}

		var desc dxgiAdapterDesc1
		if err := comCall(adapterPtr, vtblAdapterGetDesc1, uintptr(unsafe.Pointer(&desc))); err != nil {
			log.Warn("GetDesc1 failed", "adapter", ai, logging.KeyError, err)
			comRelease(adapterPtr)
			continue
		}
		adapter := &comAdapter{
			ptr:  adapterPtr,
			luid: desc.AdapterLuid,
			name: windows.UTF16ToString(desc.Description[:]),
		}

		outputs := enumAdapterOutputs(adapter)
		if len(outputs) == 0 {
			adapter.Release()
			continue
		}
		for _, out := range outputs {
			result = append(result, AdapterOutput{Adapter: adapter, Output: out})
		}
	}
	return result, nil
}

func enumAdapterOutputs(adapter *comAdapter) []*comOutput {
	var outputs []*comOutput
	for oi := 0; ; oi++ {
		var outputPtr uintptr
		err := comCall(adapter.ptr, vtblAdapterEnumOutputs, uintptr(oi), uintptr(unsafe.Pointer(&outputPtr)))
		if err != nil {
			if !Is(err, ErrNotFound) {
				log.Warn("EnumOutputs failed", logging.KeyAdapter, adapter.name, "index", oi, logging.KeyError, err)
			}
			return outputs
		}

		var raw dxgiOutputDesc
		err = comCall(outputPtr, vtblOutputGetDesc, uintptr(unsafe.Pointer(&raw)))
		if err != nil || raw.AttachedToDesktop == 0 {
			comRelease(outputPtr)
			continue
		}

		output1, err := comQuery(outputPtr, iidIDXGIOutput1)
		comRelease(outputPtr)
		if err != nil {
			log.Warn("output does not implement IDXGIOutput1", "index", oi, logging.KeyError, err)
			continue
		}

		outputs = append(outputs, &comOutput{
			ptr: output1,
			desc: OutputDesc{
				DeviceName:         windows.UTF16ToString(raw.DeviceName[:]),
				DesktopCoordinates: Rect{Left: raw.Left, Top: raw.Top, Right: raw.Right, Bottom: raw.Bottom},
				AttachedToDesktop:  true,
				Rotation:           Rotation(raw.Rotation),
				DPI:                monitorDPI(raw.Monitor),
			},
		})
	}
}

const mdtEffectiveDPI = 0

// monitorDPI returns the effective DPI of hmon, or DefaultDPI when
// shcore.dll is unavailable (before Windows 8.1) or the call fails.
func monitorDPI(hmon uintptr) Point {
	if hmon == 0 || procGetDpiForMonitor.Find() != nil {
		return Point{X: DefaultDPI, Y: DefaultDPI}
	}
	var x, y uint32
	hr, _, _ := procGetDpiForMonitor.Call(hmon, mdtEffectiveDPI,
		uintptr(unsafe.Pointer(&x)), uintptr(unsafe.Pointer(&y)))
	if err := FromRaw(hr); err != nil {
		log.Debug("GetDpiForMonitor failed", logging.KeyError, err)
		return Point{X: DefaultDPI, Y: DefaultDPI}
	}
	return Point{X: int32(x), Y: int32(y)}
}
