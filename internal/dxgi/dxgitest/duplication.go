package dxgitest

import (
	"sync"
	"time"

	"github.com/breeze-rmm/deskdupl/internal/dxgi"
)

// Step is the scripted outcome of one AcquireNextFrame call.
type Step struct {
	Info dxgi.FrameInfo
	Err  error
	// ResourceErr fails the resource to texture conversion.
	ResourceErr error
	// Tex is the acquired desktop texture. A 64x64 BGRA texture shared by
	// the whole session is used when nil.
	Tex   *Texture
	Moves []dxgi.MoveRect
	Dirty []dxgi.Rect
	// Delay blocks the acquire call before returning.
	Delay time.Duration
}

// Timeout is a step that waits for the full timeout and reports no frame.
func Timeout() Step {
	return Step{Err: dxgi.ErrWaitTimeout, Delay: -1}
}

// Duplication is a fake output duplication session. OnAcquire scripts each
// AcquireNextFrame by 1-based call number; with no script every call waits
// for its timeout and reports DXGI_ERROR_WAIT_TIMEOUT.
type Duplication struct {
	OnAcquire func(n int, timeoutMs uint32) Step
	// OnRelease scripts ReleaseFrame by 1-based call number.
	OnRelease func(n int) error

	MoveErr   error
	DirtyErr  error
	Shape     []byte
	ShapeInfo dxgi.PointerShapeInfo
	ShapeErr  error

	mu          sync.Mutex
	held        bool
	current     Step
	desktop     *Texture
	acquires    int
	releases    int
	moveCalls   int
	dirtyCalls  int
	shapeCalls  int
	violations  int
	dirtyBufLen int
	timeouts    []uint32
	released    bool
}

func (d *Duplication) AcquireNextFrame(timeoutMs uint32) (dxgi.FrameInfo, dxgi.Resource, error) {
	d.mu.Lock()
	d.acquires++
	n := d.acquires
	d.timeouts = append(d.timeouts, timeoutMs)
	if d.held {
		d.violations++
		d.mu.Unlock()
		return dxgi.FrameInfo{}, nil, dxgi.ErrInvalidCall
	}
	script := d.OnAcquire
	d.mu.Unlock()

	step := Timeout()
	if script != nil {
		step = script(n, timeoutMs)
	}
	switch {
	case step.Delay < 0:
		time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
	case step.Delay > 0:
		time.Sleep(step.Delay)
	}
	if step.Err != nil {
		return dxgi.FrameInfo{}, nil, step.Err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if step.Tex == nil {
		if d.desktop == nil {
			d.desktop = BGRA(64, 64)
		}
		step.Tex = d.desktop
	}
	if step.Info.TotalMetadataBufferSize == 0 && (len(step.Moves) > 0 || len(step.Dirty) > 0) {
		step.Info.TotalMetadataBufferSize = uint32(len(step.Moves)*dxgi.MoveRectSize + len(step.Dirty)*dxgi.RectSize)
	}
	d.held = true
	d.current = step
	return step.Info, &Resource{Tex: step.Tex, Err: step.ResourceErr}, nil
}

func (d *Duplication) ReleaseFrame() error {
	d.mu.Lock()
	d.releases++
	n := d.releases
	wasHeld := d.held
	d.held = false
	script := d.OnRelease
	d.mu.Unlock()

	if script != nil {
		if err := script(n); err != nil {
			return err
		}
	}
	if !wasHeld {
		return dxgi.ErrInvalidCall
	}
	return nil
}

func (d *Duplication) GetFrameMoveRects(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.moveCalls++
	if d.MoveErr != nil {
		return 0, d.MoveErr
	}
	var packed []byte
	for _, m := range d.current.Moves {
		packed = dxgi.AppendMoveRect(packed, m)
	}
	if len(buf) < len(packed) {
		return len(packed), dxgi.ErrMoreData
	}
	return copy(buf, packed), nil
}

func (d *Duplication) GetFrameDirtyRects(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirtyCalls++
	d.dirtyBufLen = len(buf)
	if d.DirtyErr != nil {
		return 0, d.DirtyErr
	}
	var packed []byte
	for _, r := range d.current.Dirty {
		packed = dxgi.AppendRect(packed, r)
	}
	if len(buf) < len(packed) {
		return len(packed), dxgi.ErrMoreData
	}
	return copy(buf, packed), nil
}

func (d *Duplication) GetFramePointerShape(buf []byte) (dxgi.PointerShapeInfo, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shapeCalls++
	if d.ShapeErr != nil {
		return dxgi.PointerShapeInfo{}, 0, d.ShapeErr
	}
	if len(buf) < len(d.Shape) {
		return d.ShapeInfo, len(d.Shape), dxgi.ErrMoreData
	}
	return d.ShapeInfo, copy(buf, d.Shape), nil
}

func (d *Duplication) Release() {
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
}

// Held reports whether a frame is acquired and not yet released.
func (d *Duplication) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

func (d *Duplication) Acquires() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquires
}

func (d *Duplication) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

func (d *Duplication) MoveCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.moveCalls
}

func (d *Duplication) DirtyCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirtyCalls
}

func (d *Duplication) ShapeCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shapeCalls
}

// Violations counts acquires issued while a frame was still held.
func (d *Duplication) Violations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.violations
}

// DirtyBufLen is the buffer length passed to the last GetFrameDirtyRects.
func (d *Duplication) DirtyBufLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirtyBufLen
}

// Timeouts returns the timeout passed to each AcquireNextFrame call.
func (d *Duplication) Timeouts() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.timeouts...)
}

func (d *Duplication) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}
