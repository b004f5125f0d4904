//go:build windows

package dxgi

import (
	"unsafe"
)

// dxgiOutDuplFrameInfo matches DXGI_OUTDUPL_FRAME_INFO.
type dxgiOutDuplFrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            int32
	ProtectedContentMaskedOut int32
	PointerPositionX          int32
	PointerPositionY          int32
	PointerVisible            int32
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

// dxgiOutDuplPointerShapeInfo matches DXGI_OUTDUPL_POINTER_SHAPE_INFO.
type dxgiOutDuplPointerShapeInfo struct {
	Type     uint32
	Width    uint32
	Height   uint32
	Pitch    uint32
	HotSpotX int32
	HotSpotY int32
}

type comDuplication struct {
	ptr uintptr // IDXGIOutputDuplication
}

func (o *comOutput) DuplicateOutput(dev Device) (OutputDuplication, error) {
	d, ok := dev.(*comDevice)
	if !ok || d.device == 0 || o.ptr == 0 {
		return nil, EInvalidArg
	}
	var dupl uintptr
	if err := comCall(o.ptr, vtblOutput1DuplicateOutput, d.device, uintptr(unsafe.Pointer(&dupl))); err != nil {
		return nil, err
	}
	return &comDuplication{ptr: dupl}, nil
}

func (d *comDuplication) AcquireNextFrame(timeoutMs uint32) (FrameInfo, Resource, error) {
	var raw dxgiOutDuplFrameInfo
	var res uintptr
	err := comCall(d.ptr, vtblDuplAcquireNextFrame,
		uintptr(timeoutMs),
		uintptr(unsafe.Pointer(&raw)),
		uintptr(unsafe.Pointer(&res)),
	)
	if err != nil {
		return FrameInfo{}, nil, err
	}
	info := FrameInfo{
		LastPresentTime:           raw.LastPresentTime,
		LastMouseUpdateTime:       raw.LastMouseUpdateTime,
		AccumulatedFrames:         raw.AccumulatedFrames,
		RectsCoalesced:            raw.RectsCoalesced != 0,
		ProtectedContentMaskedOut: raw.ProtectedContentMaskedOut != 0,
		PointerPosition: PointerPosition{
			X:       raw.PointerPositionX,
			Y:       raw.PointerPositionY,
			Visible: raw.PointerVisible != 0,
		},
		TotalMetadataBufferSize: raw.TotalMetadataBufferSize,
		PointerShapeBufferSize:  raw.PointerShapeBufferSize,
	}
	return info, &comResource{ptr: res}, nil
}

func (d *comDuplication) ReleaseFrame() error {
	return comCall(d.ptr, vtblDuplReleaseFrame)
}

func (d *comDuplication) GetFrameMoveRects(buf []byte) (int, error) {
	return d.metadata(vtblDuplGetFrameMoveRects, buf)
}

func (d *comDuplication) GetFrameDirtyRects(buf []byte) (int, error) {
	return d.metadata(vtblDuplGetFrameDirtyRects, buf)
}

func (d *comDuplication) metadata(idx int, buf []byte) (int, error) {
	var required uint32
	err := comCall(d.ptr, idx,
		uintptr(len(buf)),
		bufPtr(buf),
		uintptr(unsafe.Pointer(&required)),
	)
	return int(required), err
}

func (d *comDuplication) GetFramePointerShape(buf []byte) (PointerShapeInfo, int, error) {
	var required uint32
	var raw dxgiOutDuplPointerShapeInfo
	err := comCall(d.ptr, vtblDuplGetFramePointerShape,
		uintptr(len(buf)),
		bufPtr(buf),
		uintptr(unsafe.Pointer(&required)),
		uintptr(unsafe.Pointer(&raw)),
	)
	info := PointerShapeInfo{
		Type:    PointerShapeType(raw.Type),
		Width:   raw.Width,
		Height:  raw.Height,
		Pitch:   raw.Pitch,
		HotSpot: Point{X: raw.HotSpotX, Y: raw.HotSpotY},
	}
	return info, int(required), err
}

func (d *comDuplication) Release() {
	comRelease(d.ptr)
	d.ptr = 0
}

func bufPtr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
