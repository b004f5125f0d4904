package monitor

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/breeze-rmm/deskdupl/internal/buffer"
	"github.com/breeze-rmm/deskdupl/internal/duplicator"
	"github.com/breeze-rmm/deskdupl/internal/dxgi"
	"github.com/breeze-rmm/deskdupl/internal/logging"
)

var cursorLog = logging.L("cursor")

// CursorState is a snapshot of the shared cursor.
type CursorState struct {
	// MonitorID is the monitor whose engine last drove the cursor, or -1.
	MonitorID int
	Visible   bool
	// Position is the pointer's top-left in desktop coordinates.
	Position image.Point
	HotSpot  image.Point
	// Bounds is the desktop rectangle of the texture the cursor was last
	// rendered for.
	Bounds     image.Rectangle
	Shape      dxgi.PointerShapeType
	Image      *image.RGBA
	Generation uint64
}

// Cursor is the single cursor shared by all monitors. Only the engine that
// currently owns the cursor calls into it.
type Cursor struct {
	mu sync.Mutex

	monitorID int
	visible   bool
	pos       image.Point
	bounds    image.Rectangle

	shapeBuf   *buffer.Buffer
	shapeInfo  dxgi.PointerShapeInfo
	shapeSize  int
	shapeDirty bool
	img        *image.RGBA

	changed    bool
	generation uint64
}

func NewCursor() *Cursor {
	return &Cursor{
		monitorID: -1,
		shapeBuf:  buffer.New(0),
	}
}

// UpdateBuffer records the pointer position from info and, when the frame
// carries a new shape, stages it from the engine's duplication session.
func (c *Cursor) UpdateBuffer(d *duplicator.Duplicator, info dxgi.FrameInfo) {
	// A zero update time means neither position nor shape changed.
	if info.LastMouseUpdateTime == 0 {
		return
	}

	var origin dxgi.Rect
	if out := d.Output(); out != nil {
		origin = out.Desc().DesktopCoordinates
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.monitorID = d.MonitorID()
	c.visible = info.PointerPosition.Visible
	c.pos = image.Pt(
		int(info.PointerPosition.X+origin.Left),
		int(info.PointerPosition.Y+origin.Top),
	)
	c.changed = true

	if info.PointerShapeBufferSize == 0 {
		return
	}
	dupl := d.Duplication()
	if dupl == nil {
		return
	}
	if err := c.fetchShape(dupl, int(info.PointerShapeBufferSize)); err != nil {
		cursorLog.Warn("GetFramePointerShape failed",
			logging.KeyMonitor, d.MonitorID(), logging.KeyError, err)
	}
}

func (c *Cursor) fetchShape(dupl dxgi.OutputDuplication, size int) error {
	c.shapeBuf.ExpandIfNeeded(size)
	info, n, err := dupl.GetFramePointerShape(c.shapeBuf.Bytes())
	if errors.Is(err, dxgi.ErrMoreData) && n > c.shapeBuf.Size() {
		c.shapeBuf.ExpandIfNeeded(n)
		info, n, err = dupl.GetFramePointerShape(c.shapeBuf.Bytes())
	}
	if err != nil {
		return err
	}
	c.shapeInfo = info
	c.shapeSize = n
	c.shapeDirty = true
	return nil
}

// UpdateTexture renders the staged cursor for tex, the owning engine's
// shared texture.
func (c *Cursor) UpdateTexture(d *duplicator.Duplicator, tex dxgi.Texture) {
	var origin dxgi.Rect
	if out := d.Output(); out != nil {
		origin = out.Desc().DesktopCoordinates
	}
	desc := tex.Desc()

	c.mu.Lock()
	defer c.mu.Unlock()

	bounds := image.Rect(
		int(origin.Left), int(origin.Top),
		int(origin.Left)+int(desc.Width), int(origin.Top)+int(desc.Height),
	)
	if bounds != c.bounds {
		c.bounds = bounds
		c.changed = true
	}

	if c.shapeDirty {
		img, err := decodeShape(c.shapeInfo, c.shapeBuf.Bytes()[:c.shapeSize])
		if err != nil {
			cursorLog.Warn("pointer shape decode failed",
				logging.KeyMonitor, d.MonitorID(), logging.KeyError, err)
		} else {
			c.img = img
		}
		c.shapeDirty = false
		c.changed = true
	}

	if c.changed {
		c.generation++
		c.changed = false
	}
}

// State returns a snapshot of the cursor. The image is shared and must not
// be modified.
func (c *Cursor) State() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CursorState{
		MonitorID:  c.monitorID,
		Visible:    c.visible,
		Position:   c.pos,
		HotSpot:    image.Pt(int(c.shapeInfo.HotSpot.X), int(c.shapeInfo.HotSpot.Y)),
		Bounds:     c.bounds,
		Shape:      c.shapeInfo.Type,
		Image:      c.img,
		Generation: c.generation,
	}
}

// Composite draws the cursor onto dst, whose top-left corner sits at
// (originX, originY) in desktop coordinates. It reports whether anything
// was drawn.
func (c *Cursor) Composite(dst *image.RGBA, originX, originY int) bool {
	st := c.State()
	if !st.Visible || st.Image == nil {
		return false
	}
	at := st.Position.Sub(image.Pt(originX, originY))
	r := st.Image.Bounds().Add(at)
	if !r.Overlaps(dst.Bounds()) {
		return false
	}
	draw.Draw(dst, r, st.Image, image.Point{}, draw.Over)
	return true
}

var errShapeTruncated = errors.New("pointer shape buffer truncated")

// decodeShape converts a platform pointer shape into an RGBA image.
func decodeShape(info dxgi.PointerShapeInfo, data []byte) (*image.RGBA, error) {
	w, h, pitch := int(info.Width), int(info.Height), int(info.Pitch)
	switch info.Type {
	case dxgi.PointerShapeMonochrome:
		// AND mask rows followed by XOR mask rows, one bit per pixel.
		h /= 2
		if pitch*h*2 > len(data) || (w+7)/8 > pitch {
			return nil, errShapeTruncated
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			andRow := data[y*pitch:]
			xorRow := data[(y+h)*pitch:]
			for x := 0; x < w; x++ {
				mask := byte(0x80) >> (x % 8)
				and := andRow[x/8]&mask != 0
				xor := xorRow[x/8]&mask != 0
				switch {
				case !and && !xor:
					img.SetRGBA(x, y, color.RGBA{A: 0xFF})
				case !and && xor:
					img.SetRGBA(x, y, color.RGBA{0xFF, 0xFF, 0xFF, 0xFF})
				case and && xor:
					// Screen inversion has no RGBA equivalent; draw black.
					img.SetRGBA(x, y, color.RGBA{A: 0xFF})
				}
			}
		}
		return img, nil

	case dxgi.PointerShapeColor, dxgi.PointerShapeMaskedColor:
		if pitch*h > len(data) || w*4 > pitch {
			return nil, errShapeTruncated
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			row := data[y*pitch:]
			for x := 0; x < w; x++ {
				b, g, r, a := row[x*4], row[x*4+1], row[x*4+2], row[x*4+3]
				if info.Type == dxgi.PointerShapeMaskedColor {
					// Alpha 0 replaces the screen pixel, 0xFF XORs with it.
					if a != 0 {
						continue
					}
					a = 0xFF
				}
				if a == 0 {
					continue
				}
				img.Set(x, y, color.NRGBA{R: r, G: g, B: b, A: a})
			}
		}
		return img, nil
	}
	return nil, errors.New("unknown pointer shape type")
}

var _ duplicator.CursorSink = (*Cursor)(nil)
