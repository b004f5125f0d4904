package duplicator

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/breeze-rmm/deskdupl/internal/dxgi"
)

// ErrNoSharedTexture is returned by ReadPixels before any frame was copied.
var ErrNoSharedTexture = errors.New("no shared texture to read")

// IsolatedDevice owns a device bound to a single adapter, the shared
// texture frames are copied into, and the staging texture pixel reads go
// through. mu serializes use of the immediate context between the capture
// goroutine and readers.
type IsolatedDevice struct {
	mu      sync.Mutex
	device  dxgi.Device
	shared  dxgi.Texture
	desc    dxgi.TextureDesc
	staging dxgi.Texture
}

// NewIsolatedDevice creates a device on adapter that is independent of any
// other device in the process.
func NewIsolatedDevice(adapter dxgi.Adapter) (*IsolatedDevice, error) {
	if adapter == nil {
		return nil, fmt.Errorf("create isolated device: %w", dxgi.EInvalidArg)
	}
	dev, err := adapter.CreateDevice()
	if err != nil {
		return nil, fmt.Errorf("create isolated device on %q: %w", adapter.Name(), err)
	}
	return &IsolatedDevice{device: dev}, nil
}

// Device returns the underlying device.
func (d *IsolatedDevice) Device() dxgi.Device {
	return d.device
}

// CompatibleSharedTexture returns a shareable texture matching src's size
// and format, recreating the cached one when either changes. It returns nil
// when the texture cannot be created.
func (d *IsolatedDevice) CompatibleSharedTexture(src dxgi.Texture) dxgi.Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.compatibleShared(src)
}

func (d *IsolatedDevice) compatibleShared(src dxgi.Texture) dxgi.Texture {
	want := src.Desc()
	if d.shared != nil && d.desc.Width == want.Width && d.desc.Height == want.Height && d.desc.Format == want.Format {
		return d.shared
	}
	if d.shared != nil {
		d.shared.Release()
		d.shared = nil
	}
	if d.device == nil {
		return nil
	}
	tex, err := d.device.CreateTexture2D(dxgi.SharedDescFor(want))
	if err != nil {
		log.Warn("shared texture creation failed",
			"width", want.Width, "height", want.Height, "format", want.Format, "error", err)
		return nil
	}
	d.shared = tex
	d.desc = want
	return tex
}

// CopyToShared copies src into the compatible shared texture and flushes
// the context. It returns nil when no shared texture could be created.
func (d *IsolatedDevice) CopyToShared(src dxgi.Texture) dxgi.Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	shared := d.compatibleShared(src)
	if shared == nil {
		return nil
	}
	d.device.CopyResource(shared, src)
	d.device.Flush()
	return shared
}

// ReadPixels copies the shared texture into a staging texture and returns
// region r of it as RGBA. Only B8G8R8A8 frames can be read.
func (d *IsolatedDevice) ReadPixels(r image.Rectangle) (*image.RGBA, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil || d.shared == nil {
		return nil, ErrNoSharedTexture
	}
	if f := d.desc.Format; f != dxgi.FormatB8G8R8A8UNorm {
		return nil, fmt.Errorf("read pixels: unsupported format %v", f)
	}
	bounds := image.Rect(0, 0, int(d.desc.Width), int(d.desc.Height))
	if r.Empty() || !r.In(bounds) {
		return nil, fmt.Errorf("read pixels: region %v outside %v", r, bounds)
	}

	staging, err := d.compatibleStaging()
	if err != nil {
		return nil, err
	}
	d.device.CopyResource(staging, d.shared)

	mapped, err := d.device.Map(staging)
	if err != nil {
		return nil, fmt.Errorf("read pixels: %w", err)
	}
	defer d.device.Unmap(staging)

	img := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		src := mapped.Data[(r.Min.Y+y)*mapped.RowPitch+r.Min.X*4:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < r.Dx(); x++ {
			i := x * 4
			dst[i+0] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i+0]
			dst[i+3] = src[i+3]
		}
	}
	return img, nil
}

// compatibleStaging returns a staging texture matching the shared one. The
// caller holds mu.
func (d *IsolatedDevice) compatibleStaging() (dxgi.Texture, error) {
	if d.staging != nil {
		got := d.staging.Desc()
		if got.Width == d.desc.Width && got.Height == d.desc.Height && got.Format == d.desc.Format {
			return d.staging, nil
		}
		d.staging.Release()
		d.staging = nil
	}
	tex, err := d.device.CreateStagingTexture(d.desc)
	if err != nil {
		return nil, fmt.Errorf("create staging texture %dx%d: %w", d.desc.Width, d.desc.Height, err)
	}
	d.staging = tex
	return tex, nil
}

// Release frees the cached textures and the device.
func (d *IsolatedDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.staging != nil {
		d.staging.Release()
		d.staging = nil
	}
	if d.shared != nil {
		d.shared.Release()
		d.shared = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
}
