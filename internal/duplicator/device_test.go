package duplicator

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/breeze-rmm/deskdupl/internal/dxgi"
	"github.com/breeze-rmm/deskdupl/internal/dxgi/dxgitest"
)

func TestCompatibleSharedTextureCachesBySizeAndFormat(t *testing.T) {
	adapter := &dxgitest.Adapter{}
	dev, err := NewIsolatedDevice(adapter)
	if err != nil {
		t.Fatalf("NewIsolatedDevice: %v", err)
	}
	defer dev.Release()
	fake := adapter.Devices()[0]

	first := dev.CompatibleSharedTexture(dxgitest.BGRA(1920, 1080))
	if first == nil {
		t.Fatal("expected a shared texture")
	}
	desc := first.Desc()
	if desc.MiscFlags&dxgi.MiscShared == 0 || desc.BindFlags != dxgi.BindShaderResource|dxgi.BindRenderTarget {
		t.Fatalf("shared texture desc = %+v", desc)
	}

	again := dev.CompatibleSharedTexture(dxgitest.BGRA(1920, 1080))
	if again != first || len(fake.Textures()) != 1 {
		t.Fatal("same size and format should reuse the cached texture")
	}

	resized := dev.CompatibleSharedTexture(dxgitest.BGRA(1280, 720))
	if resized == first || len(fake.Textures()) != 2 {
		t.Fatal("a size change should recreate the texture")
	}
	if !first.(*dxgitest.Texture).Released() {
		t.Fatal("replaced texture should be released")
	}

	rgba := dxgitest.NewTexture(dxgi.TextureDesc{Width: 1280, Height: 720, Format: dxgi.FormatR8G8B8A8UNorm})
	if dev.CompatibleSharedTexture(rgba) == resized {
		t.Fatal("a format change should recreate the texture")
	}
}

func TestCompatibleSharedTextureNilOnFailure(t *testing.T) {
	adapter := &dxgitest.Adapter{}
	dev, err := NewIsolatedDevice(adapter)
	if err != nil {
		t.Fatalf("NewIsolatedDevice: %v", err)
	}
	adapter.Devices()[0].SetCreateTextureErr(dxgi.EOutOfMemory)
	if tex := dev.CompatibleSharedTexture(dxgitest.BGRA(64, 64)); tex != nil {
		t.Fatal("expected nil on creation failure")
	}
}

func TestNewIsolatedDeviceErrors(t *testing.T) {
	if _, err := NewIsolatedDevice(nil); !dxgi.Is(err, dxgi.EInvalidArg) {
		t.Fatalf("nil adapter: err = %v", err)
	}
	if _, err := NewIsolatedDevice(&dxgitest.Adapter{CreateErr: dxgi.EFail}); !dxgi.Is(err, dxgi.EFail) {
		t.Fatalf("create failure: err = %v", err)
	}
}

func TestReadPixelsConvertsRegionFromStaging(t *testing.T) {
	adapter := &dxgitest.Adapter{}
	dev, err := NewIsolatedDevice(adapter)
	if err != nil {
		t.Fatalf("NewIsolatedDevice: %v", err)
	}
	defer dev.Release()
	fake := adapter.Devices()[0]

	if _, err := dev.ReadPixels(image.Rect(0, 0, 1, 1)); !errors.Is(err, ErrNoSharedTexture) {
		t.Fatalf("before any copy: err = %v", err)
	}

	// Rows padded past width*4 the way drivers align them.
	if dev.CopyToShared(dxgitest.Pattern(32, 16, 32*4+64)) == nil {
		t.Fatal("CopyToShared returned nil")
	}
	img, err := dev.ReadPixels(image.Rect(3, 2, 13, 10))
	if err != nil {
		t.Fatalf("ReadPixels: %v", err)
	}
	if got := img.Bounds(); got != image.Rect(0, 0, 10, 8) {
		t.Fatalf("bounds = %v", got)
	}
	// Source pixel (5, 4) is B=5 G=4 R=9.
	if got := img.RGBAAt(2, 2); got != (color.RGBA{R: 9, G: 4, B: 5, A: 0xFF}) {
		t.Fatalf("pixel = %v", got)
	}
	if fake.Maps() != 1 || fake.Unmaps() != 1 {
		t.Fatalf("maps/unmaps = %d/%d, want 1/1", fake.Maps(), fake.Unmaps())
	}

	staging := fake.Textures()[1]
	if d := staging.Desc(); d.Usage != dxgi.UsageStaging || d.CPUAccess != dxgi.CPUAccessRead || d.MiscFlags != 0 {
		t.Fatalf("staging desc = %+v", d)
	}
	if _, err := dev.ReadPixels(image.Rect(0, 0, 4, 4)); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if len(fake.Textures()) != 2 {
		t.Fatalf("textures = %d, staging should be reused", len(fake.Textures()))
	}
}

func TestReadPixelsRejectsBadRegionsAndMapFailure(t *testing.T) {
	adapter := &dxgitest.Adapter{}
	dev, err := NewIsolatedDevice(adapter)
	if err != nil {
		t.Fatalf("NewIsolatedDevice: %v", err)
	}
	defer dev.Release()
	fake := adapter.Devices()[0]
	dev.CopyToShared(dxgitest.Pattern(8, 8, 32))

	for _, r := range []image.Rectangle{
		image.Rect(0, 0, 0, 0),
		image.Rect(4, 4, 9, 6),
		image.Rect(-1, 0, 2, 2),
	} {
		if _, err := dev.ReadPixels(r); err == nil {
			t.Errorf("region %v accepted", r)
		}
	}

	fake.MapErr = dxgi.ErrDeviceRemoved
	if _, err := dev.ReadPixels(image.Rect(0, 0, 8, 8)); !dxgi.Is(err, dxgi.ErrDeviceRemoved) {
		t.Fatalf("map failure: err = %v", err)
	}
	if fake.Unmaps() != 0 {
		t.Fatal("failed map should not be unmapped")
	}
}
