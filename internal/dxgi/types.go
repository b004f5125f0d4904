package dxgi

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// LUID identifies a display adapter for the lifetime of a boot.
type LUID struct {
	LowPart  uint32
	HighPart int32
}

func (l LUID) String() string {
	return fmt.Sprintf("%08X:%08X", uint32(l.HighPart), l.LowPart)
}

// IsZero reports whether the LUID is unset.
func (l LUID) IsZero() bool {
	return l.LowPart == 0 && l.HighPart == 0
}

// ParseLUID parses the "HIGH:LOW" hex form produced by String.
func ParseLUID(s string) (LUID, error) {
	hi, lo, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return LUID{}, fmt.Errorf("luid %q: expected HIGH:LOW", s)
	}
	h, err := strconv.ParseUint(strings.TrimPrefix(hi, "0x"), 16, 32)
	if err != nil {
		return LUID{}, fmt.Errorf("luid %q high part: %w", s, err)
	}
	l, err := strconv.ParseUint(strings.TrimPrefix(lo, "0x"), 16, 32)
	if err != nil {
		return LUID{}, fmt.Errorf("luid %q low part: %w", s, err)
	}
	return LUID{LowPart: uint32(l), HighPart: int32(uint32(h))}, nil
}

// Point matches POINT.
type Point struct {
	X, Y int32
}

// Rect matches RECT.
type Rect struct {
	Left, Top, Right, Bottom int32
}

func (r Rect) Width() int32  { return r.Right - r.Left }
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// MoveRect matches DXGI_OUTDUPL_MOVE_RECT: a region copied from
// SourcePoint to DestinationRect.
type MoveRect struct {
	SourcePoint     Point
	DestinationRect Rect
}

// Packed record sizes in the metadata buffer.
const (
	RectSize     = 16
	MoveRectSize = 24
)

// ParseDirtyRects decodes a packed array of RECT records. Trailing bytes
// that do not form a whole record are ignored.
func ParseDirtyRects(b []byte) []Rect {
	n := len(b) / RectSize
	if n == 0 {
		return nil
	}
	out := make([]Rect, n)
	for i := range out {
		out[i] = readRect(b[i*RectSize:])
	}
	return out
}

// ParseMoveRects decodes a packed array of DXGI_OUTDUPL_MOVE_RECT records.
func ParseMoveRects(b []byte) []MoveRect {
	n := len(b) / MoveRectSize
	if n == 0 {
		return nil
	}
	out := make([]MoveRect, n)
	for i := range out {
		rec := b[i*MoveRectSize:]
		out[i] = MoveRect{
			SourcePoint: Point{
				X: int32(binary.LittleEndian.Uint32(rec[0:])),
				Y: int32(binary.LittleEndian.Uint32(rec[4:])),
			},
			DestinationRect: readRect(rec[8:]),
		}
	}
	return out
}

// AppendRect appends the packed form of r to b.
func AppendRect(b []byte, r Rect) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Left))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Top))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Right))
	return binary.LittleEndian.AppendUint32(b, uint32(r.Bottom))
}

// AppendMoveRect appends the packed form of m to b.
func AppendMoveRect(b []byte, m MoveRect) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(m.SourcePoint.X))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.SourcePoint.Y))
	return AppendRect(b, m.DestinationRect)
}

func readRect(b []byte) Rect {
	return Rect{
		Left:   int32(binary.LittleEndian.Uint32(b[0:])),
		Top:    int32(binary.LittleEndian.Uint32(b[4:])),
		Right:  int32(binary.LittleEndian.Uint32(b[8:])),
		Bottom: int32(binary.LittleEndian.Uint32(b[12:])),
	}
}

// Format is a DXGI_FORMAT value.
type Format uint32

const (
	FormatUnknown       Format = 0
	FormatR8G8B8A8UNorm Format = 28
	FormatB8G8R8A8UNorm Format = 87
)

// Rotation is a DXGI_MODE_ROTATION value.
type Rotation uint32

const (
	RotationUnspecified Rotation = 0
	RotationIdentity    Rotation = 1
	Rotation90          Rotation = 2
	Rotation180         Rotation = 3
	Rotation270         Rotation = 4
)

// Degrees returns the clockwise rotation in degrees.
func (r Rotation) Degrees() int {
	switch r {
	case Rotation90:
		return 90
	case Rotation180:
		return 180
	case Rotation270:
		return 270
	default:
		return 0
	}
}

// TextureDesc is the subset of D3D11_TEXTURE2D_DESC the capture path cares
// about.
type TextureDesc struct {
	Width     uint32
	Height    uint32
	Format    Format
	MipLevels uint32
	ArraySize uint32
	Usage     uint32
	BindFlags uint32
	CPUAccess uint32
	MiscFlags uint32
}

// D3D11 usage/bind/misc flags.
const (
	UsageDefault = 0
	UsageStaging = 3

	BindShaderResource = 0x8
	BindRenderTarget   = 0x20

	CPUAccessRead = 0x20000

	MiscShared = 0x2
)

// SharedDescFor returns the descriptor of a cross-device shareable copy
// destination for src.
func SharedDescFor(src TextureDesc) TextureDesc {
	return TextureDesc{
		Width:     src.Width,
		Height:    src.Height,
		Format:    src.Format,
		MipLevels: 1,
		ArraySize: 1,
		Usage:     UsageDefault,
		BindFlags: BindShaderResource | BindRenderTarget,
		MiscFlags: MiscShared,
	}
}

// StagingDescFor returns the descriptor of a CPU-readable copy destination
// for src.
func StagingDescFor(src TextureDesc) TextureDesc {
	return TextureDesc{
		Width:     src.Width,
		Height:    src.Height,
		Format:    src.Format,
		MipLevels: 1,
		ArraySize: 1,
		Usage:     UsageStaging,
		CPUAccess: CPUAccessRead,
	}
}

// MappedTexture is a staging texture mapped for reading. Data is valid only
// until the texture is unmapped.
type MappedTexture struct {
	Data     []byte
	RowPitch int
}

// PointerPosition matches DXGI_OUTDUPL_POINTER_POSITION.
type PointerPosition struct {
	X, Y    int32
	Visible bool
}

// FrameInfo matches DXGI_OUTDUPL_FRAME_INFO.
type FrameInfo struct {
	LastPresentTime           int64
	LastMouseUpdateTime       int64
	AccumulatedFrames         uint32
	RectsCoalesced            bool
	ProtectedContentMaskedOut bool
	PointerPosition           PointerPosition
	TotalMetadataBufferSize   uint32
	PointerShapeBufferSize    uint32
}

// PointerShapeType is a DXGI_OUTDUPL_POINTER_SHAPE_TYPE value.
type PointerShapeType uint32

const (
	PointerShapeMonochrome  PointerShapeType = 1
	PointerShapeColor       PointerShapeType = 2
	PointerShapeMaskedColor PointerShapeType = 4
)

// PointerShapeInfo matches DXGI_OUTDUPL_POINTER_SHAPE_INFO.
type PointerShapeInfo struct {
	Type    PointerShapeType
	Width   uint32
	Height  uint32
	Pitch   uint32
	HotSpot Point
}

// OutputDesc describes a display output.
type OutputDesc struct {
	DeviceName         string
	DesktopCoordinates Rect
	AttachedToDesktop  bool
	Rotation           Rotation
	// DPI is the monitor's effective DPI. The zero value means unknown.
	DPI Point
}

// DefaultDPI is the DPI of an unscaled monitor.
const DefaultDPI = 96
