// Package dxgitest provides scriptable in-memory implementations of the
// dxgi interfaces for exercising the capture engine without a GPU.
package dxgitest

import (
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/deskdupl/internal/dxgi"
)

var nextHandle atomic.Uintptr

// Adapter is a fake display adapter.
type Adapter struct {
	ID          dxgi.LUID
	AdapterName string
	// CreateErr, when set, is returned by CreateDevice.
	CreateErr error

	mu      sync.Mutex
	devices []*Device
}

func (a *Adapter) LUID() dxgi.LUID { return a.ID }
func (a *Adapter) Name() string    { return a.AdapterName }

func (a *Adapter) CreateDevice() (dxgi.Device, error) {
	if a.CreateErr != nil {
		return nil, a.CreateErr
	}
	d := &Device{}
	a.mu.Lock()
	a.devices = append(a.devices, d)
	a.mu.Unlock()
	return d, nil
}

// Devices returns every device created on the adapter.
func (a *Adapter) Devices() []*Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Device(nil), a.devices...)
}

// Device is a fake D3D11 device and immediate context.
type Device struct {
	// CreateTextureErr, when set, is returned by CreateTexture2D.
	CreateTextureErr error
	// MapErr, when set, is returned by Map.
	MapErr error

	mu       sync.Mutex
	textures []*Texture
	copies   int
	flushes  int
	maps     int
	unmaps   int
	released bool
}

func (d *Device) CreateTexture2D(desc dxgi.TextureDesc) (dxgi.Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateTextureErr != nil {
		return nil, d.CreateTextureErr
	}
	t := NewTexture(desc)
	if desc.MiscFlags&dxgi.MiscShared != 0 {
		t.Handle = nextHandle.Add(1)
	}
	d.textures = append(d.textures, t)
	return t, nil
}

func (d *Device) SetCreateTextureErr(err error) {
	d.mu.Lock()
	d.CreateTextureErr = err
	d.mu.Unlock()
}

func (d *Device) CreateStagingTexture(desc dxgi.TextureDesc) (dxgi.Texture, error) {
	return d.CreateTexture2D(dxgi.StagingDescFor(desc))
}

// CopyResource counts the copy and carries src's pixels into dst when both
// are fakes.
func (d *Device) CopyResource(dst, src dxgi.Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.copies++
	dt, ok1 := dst.(*Texture)
	st, ok2 := src.(*Texture)
	if !ok1 || !ok2 {
		return
	}
	st.mu.Lock()
	pix, pitch := append([]byte(nil), st.Pix...), st.Pitch
	st.mu.Unlock()
	dt.mu.Lock()
	dt.Pix, dt.Pitch = pix, pitch
	dt.mu.Unlock()
}

// Map hands out the texture's pixels. Textures without CPU read access are
// rejected the way the platform rejects them.
func (d *Device) Map(tex dxgi.Texture) (dxgi.MappedTexture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.MapErr != nil {
		return dxgi.MappedTexture{}, d.MapErr
	}
	t, ok := tex.(*Texture)
	if !ok || t.D.Usage != dxgi.UsageStaging || t.D.CPUAccess&dxgi.CPUAccessRead == 0 {
		return dxgi.MappedTexture{}, dxgi.EInvalidArg
	}
	d.maps++
	t.mu.Lock()
	defer t.mu.Unlock()
	pitch := t.Pitch
	if pitch == 0 {
		pitch = int(t.D.Width) * 4
	}
	if need := pitch * int(t.D.Height); len(t.Pix) < need {
		t.Pix = append(t.Pix, make([]byte, need-len(t.Pix))...)
	}
	return dxgi.MappedTexture{Data: t.Pix, RowPitch: pitch}, nil
}

func (d *Device) Unmap(tex dxgi.Texture) {
	d.mu.Lock()
	d.unmaps++
	d.mu.Unlock()
}

func (d *Device) Flush() {
	d.mu.Lock()
	d.flushes++
	d.mu.Unlock()
}

func (d *Device) Release() {
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
}

// Textures returns every texture created on the device.
func (d *Device) Textures() []*Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Texture(nil), d.textures...)
}

func (d *Device) Copies() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copies
}

func (d *Device) Flushes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes
}

func (d *Device) Maps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maps
}

func (d *Device) Unmaps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unmaps
}

func (d *Device) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Texture is a fake 2D texture. Pix holds BGRA rows Pitch bytes apart
// and may be nil for textures nobody reads back.
type Texture struct {
	D      dxgi.TextureDesc
	Handle uintptr

	mu    sync.Mutex
	Pix   []byte
	Pitch int

	released atomic.Bool
}

// NewTexture returns a texture with the given descriptor.
func NewTexture(desc dxgi.TextureDesc) *Texture {
	return &Texture{D: desc}
}

// BGRA returns a width x height B8G8R8A8 texture, the format desktop
// duplication hands out.
func BGRA(width, height uint32) *Texture {
	return NewTexture(dxgi.TextureDesc{
		Width:     width,
		Height:    height,
		Format:    dxgi.FormatB8G8R8A8UNorm,
		MipLevels: 1,
		ArraySize: 1,
	})
}

// Pattern returns a BGRA texture whose pixel (x, y) is B=x, G=y, R=x+y,
// A=0xFF (each modulo 256), with pitch bytes per row.
func Pattern(width, height uint32, pitch int) *Texture {
	t := BGRA(width, height)
	t.Pitch = pitch
	t.Pix = make([]byte, pitch*int(height))
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			i := y*pitch + x*4
			t.Pix[i+0] = byte(x)
			t.Pix[i+1] = byte(y)
			t.Pix[i+2] = byte(x + y)
			t.Pix[i+3] = 0xFF
		}
	}
	return t
}

func (t *Texture) Desc() dxgi.TextureDesc { return t.D }
func (t *Texture) SharedHandle() uintptr  { return t.Handle }
func (t *Texture) Release()               { t.released.Store(true) }
func (t *Texture) Released() bool         { return t.released.Load() }

// Resource is a fake acquired desktop resource.
type Resource struct {
	Tex *Texture
	Err error

	released atomic.Bool
}

func (r *Resource) Texture() (dxgi.Texture, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Tex, nil
}

func (r *Resource) Release()       { r.released.Store(true) }
func (r *Resource) Released() bool { return r.released.Load() }

// Output is a fake display output.
type Output struct {
	D dxgi.OutputDesc
	// DuplicateErr, when set, is returned by DuplicateOutput.
	DuplicateErr error
	// Dupl is the session handed out; one is created on first use when nil.
	Dupl *Duplication

	mu         sync.Mutex
	duplicates int
}

func (o *Output) Desc() dxgi.OutputDesc { return o.D }

func (o *Output) DuplicateOutput(dev dxgi.Device) (dxgi.OutputDuplication, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.duplicates++
	if o.DuplicateErr != nil {
		return nil, o.DuplicateErr
	}
	if o.Dupl == nil {
		o.Dupl = &Duplication{}
	}
	return o.Dupl, nil
}

// Duplicates returns how many times DuplicateOutput was called.
func (o *Output) Duplicates() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duplicates
}
