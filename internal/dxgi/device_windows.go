//go:build windows

package dxgi

import (
	"fmt"
	"unsafe"
)

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC (44 bytes).
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// d3d11MappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

const d3d11MapRead = 1

type comDevice struct {
	device  uintptr // ID3D11Device
	context uintptr // ID3D11DeviceContext
}

// CreateDevice creates a hardware device on this adapter. The driver type
// must be UNKNOWN whenever an explicit adapter is passed.
func (a *comAdapter) CreateDevice() (Device, error) {
	if a.ptr == 0 {
		return nil, EInvalidArg
	}
	var device, context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32

	hr, _, _ := procD3D11CreateDevice.Call(
		a.ptr,                                  // pAdapter
		uintptr(d3dDriverTypeUnknown),          // DriverType
		0,                                      // Software
		uintptr(d3d11CreateDeviceBGRASupport),  // Flags
		uintptr(unsafe.Pointer(&featureLevel)), // pFeatureLevels
		1,                                      // FeatureLevels count
		uintptr(d3d11SDKVersion),               // SDKVersion
		uintptr(unsafe.Pointer(&device)),       // ppDevice
		uintptr(unsafe.Pointer(&actualLevel)),  // pFeatureLevel
		uintptr(unsafe.Pointer(&context)),      // ppImmediateContext
	)
	if err := FromRaw(hr); err != nil {
		return nil, fmt.Errorf("D3D11CreateDevice on %s: %w", a.name, err)
	}
	return &comDevice{device: device, context: context}, nil
}

func (d *comDevice) CreateTexture2D(desc TextureDesc) (Texture, error) {
	raw := d3d11Texture2DDesc{
		Width:          desc.Width,
		Height:         desc.Height,
		MipLevels:      desc.MipLevels,
		ArraySize:      desc.ArraySize,
		Format:         uint32(desc.Format),
		SampleCount:    1,
		Usage:          desc.Usage,
		BindFlags:      desc.BindFlags,
		CPUAccessFlags: desc.CPUAccess,
		MiscFlags:      desc.MiscFlags,
	}
	var tex uintptr
	err := comCall(d.device, vtblDeviceCreateTexture2D,
		uintptr(unsafe.Pointer(&raw)),
		0, // pInitialData
		uintptr(unsafe.Pointer(&tex)),
	)
	if err != nil {
		return nil, fmt.Errorf("CreateTexture2D %dx%d: %w", desc.Width, desc.Height, err)
	}
	return &comTexture{ptr: tex}, nil
}

func (d *comDevice) CreateStagingTexture(desc TextureDesc) (Texture, error) {
	return d.CreateTexture2D(StagingDescFor(desc))
}

// Map maps subresource 0 of a staging texture for reading.
func (d *comDevice) Map(tex Texture) (MappedTexture, error) {
	t, ok := tex.(*comTexture)
	if !ok || t.ptr == 0 {
		return MappedTexture{}, EInvalidArg
	}
	var mapped d3d11MappedSubresource
	err := comCall(d.context, vtblCtxMap,
		t.ptr,
		0, // Subresource
		d3d11MapRead,
		0, // MapFlags
		uintptr(unsafe.Pointer(&mapped)),
	)
	if err != nil {
		return MappedTexture{}, fmt.Errorf("Map staging texture: %w", err)
	}
	height := int(t.Desc().Height)
	return MappedTexture{
		Data:     unsafe.Slice((*byte)(unsafe.Pointer(mapped.PData)), height*int(mapped.RowPitch)),
		RowPitch: int(mapped.RowPitch),
	}, nil
}

func (d *comDevice) Unmap(tex Texture) {
	if t, ok := tex.(*comTexture); ok && t.ptr != 0 {
		comVoid(d.context, vtblCtxUnmap, t.ptr, 0)
	}
}

func (d *comDevice) CopyResource(dst, src Texture) {
	dt, ok1 := dst.(*comTexture)
	st, ok2 := src.(*comTexture)
	if !ok1 || !ok2 || dt.ptr == 0 || st.ptr == 0 {
		return
	}
	comVoid(d.context, vtblCtxCopyResource, dt.ptr, st.ptr)
}

func (d *comDevice) Flush() {
	comVoid(d.context, vtblCtxFlush)
}

func (d *comDevice) Release() {
	comRelease(d.context)
	comRelease(d.device)
	d.context, d.device = 0, 0
}

type comTexture struct {
	ptr uintptr // ID3D11Texture2D
}

func (t *comTexture) Desc() TextureDesc {
	var raw d3d11Texture2DDesc
	if t.ptr != 0 {
		comVoid(t.ptr, vtblTextureGetDesc, uintptr(unsafe.Pointer(&raw)))
	}
	return TextureDesc{
		Width:     raw.Width,
		Height:    raw.Height,
		Format:    Format(raw.Format),
		MipLevels: raw.MipLevels,
		ArraySize: raw.ArraySize,
		Usage:     raw.Usage,
		BindFlags: raw.BindFlags,
		CPUAccess: raw.CPUAccessFlags,
		MiscFlags: raw.MiscFlags,
	}
}

func (t *comTexture) SharedHandle() uintptr {
	if t.ptr == 0 {
		return 0
	}
	res, err := comQuery(t.ptr, iidIDXGIResource)
	if err != nil {
		return 0
	}
	defer comRelease(res)
	var handle uintptr
	if err := comCall(res, vtblResourceGetSharedHandle, uintptr(unsafe.Pointer(&handle))); err != nil {
		return 0
	}
	return handle
}

func (t *comTexture) Release() {
	comRelease(t.ptr)
	t.ptr = 0
}

type comResource struct {
	ptr uintptr // IDXGIResource
}

func (r *comResource) Texture() (Texture, error) {
	tex, err := comQuery(r.ptr, iidID3D11Texture2D)
	if err != nil {
		return nil, fmt.Errorf("QueryInterface ID3D11Texture2D: %w", err)
	}
	return &comTexture{ptr: tex}, nil
}

func (r *comResource) Release() {
	comRelease(r.ptr)
	r.ptr = 0
}
