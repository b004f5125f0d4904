package duplicator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/breeze-rmm/deskdupl/internal/dxgi"
	"github.com/breeze-rmm/deskdupl/internal/dxgi/dxgitest"
)

type fakeSink struct {
	mu       sync.Mutex
	buffers  map[int]int
	textures map[int]int
}

func (s *fakeSink) UpdateBuffer(d *Duplicator, info dxgi.FrameInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[d.MonitorID()]++
}

func (s *fakeSink) UpdateTexture(d *Duplicator, tex dxgi.Texture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textures[d.MonitorID()]++
}

func (s *fakeSink) counts(id int) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffers[id], s.textures[id]
}

type fakeRegistry struct {
	rate  atomic.Int32
	owner atomic.Int32
	sink  *fakeSink
}

func newRegistry(rate int) *fakeRegistry {
	r := &fakeRegistry{sink: &fakeSink{buffers: map[int]int{}, textures: map[int]int{}}}
	r.rate.Store(int32(rate))
	r.owner.Store(-1)
	return r
}

func (r *fakeRegistry) TargetFrameRate() int { return int(r.rate.Load()) }
func (r *fakeRegistry) ClaimCursor(id int)   { r.owner.Store(int32(id)) }
func (r *fakeRegistry) CursorOwner() int     { return int(r.owner.Load()) }
func (r *fakeRegistry) Cursor() CursorSink   { return r.sink }

type fixedOracle dxgi.LUID

func (o fixedOracle) RenderAdapterLUID() dxgi.LUID { return dxgi.LUID(o) }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var testLUID = dxgi.LUID{LowPart: 0x1234, HighPart: 0}

type harness struct {
	d       *Duplicator
	adapter *dxgitest.Adapter
	output  *dxgitest.Output
	dupl    *dxgitest.Duplication
	reg     *fakeRegistry
}

func newHarness(t *testing.T, id int, reg *fakeRegistry, dupl *dxgitest.Duplication) *harness {
	t.Helper()
	if dupl == nil {
		dupl = &dxgitest.Duplication{}
	}
	h := &harness{
		adapter: &dxgitest.Adapter{ID: testLUID, AdapterName: "Fake GPU"},
		output:  &dxgitest.Output{D: dxgi.OutputDesc{DeviceName: "DISPLAY1"}, Dupl: dupl},
		dupl:    dupl,
		reg:     reg,
	}
	h.d = New(Options{
		MonitorID: id,
		Adapter:   h.adapter,
		Output:    h.output,
		Registry:  reg,
		Oracle:    fixedOracle(testLUID),
	})
	if got := h.d.State(); got != Ready {
		t.Fatalf("initial state = %v, want ready", got)
	}
	t.Cleanup(h.d.Close)
	return h
}

func (h *harness) device() *dxgitest.Device {
	return h.adapter.Devices()[0]
}

func frame(visible bool) dxgitest.Step {
	return dxgitest.Step{Info: dxgi.FrameInfo{
		LastPresentTime: 1,
		PointerPosition: dxgi.PointerPosition{Visible: visible},
	}}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewDeviceFailureIsUnknown(t *testing.T) {
	adapter := &dxgitest.Adapter{ID: testLUID, CreateErr: dxgi.EFail}
	output := &dxgitest.Output{}
	d := New(Options{MonitorID: 0, Adapter: adapter, Output: output, Registry: newRegistry(60)})
	defer d.Close()

	if got := d.State(); got != Unknown {
		t.Fatalf("state = %v, want unknown", got)
	}
	if output.Duplicates() != 0 {
		t.Fatal("session must not be opened without a device")
	}
	d.Start()
	if d.IsRunning() {
		t.Fatal("Start must be a no-op outside Ready")
	}
}

func TestNewMapsDuplicateOutputErrors(t *testing.T) {
	tests := []struct {
		err  error
		want State
	}{
		{dxgi.EInvalidArg, InvalidArg},
		{dxgi.EAccessDenied, AccessDenied},
		{dxgi.ErrUnsupported, Unsupported},
		{dxgi.ErrNotCurrentlyAvailable, CurrentlyNotAvailable},
		{dxgi.ErrSessionDisconnected, SessionDisconnected},
		{dxgi.ErrDeviceRemoved, Unknown},
	}
	for _, tt := range tests {
		output := &dxgitest.Output{DuplicateErr: tt.err}
		d := New(Options{Adapter: &dxgitest.Adapter{}, Output: output, Registry: newRegistry(60)})
		if got := d.State(); got != tt.want {
			t.Errorf("DuplicateOutput %v: state = %v, want %v", tt.err, got, tt.want)
		}
		if d.Duplication() != nil {
			t.Errorf("DuplicateOutput %v: session should be nil", tt.err)
		}
		d.Close()
	}
}

func TestAdapterMismatchIsUnsupported(t *testing.T) {
	adapter := &dxgitest.Adapter{ID: dxgi.LUID{LowPart: 1}}
	d := New(Options{
		Adapter:  adapter,
		Output:   &dxgitest.Output{},
		Registry: newRegistry(60),
		Oracle:   fixedOracle(dxgi.LUID{LowPart: 2}),
	})
	defer d.Close()
	if got := d.State(); got != Unsupported {
		t.Fatalf("state = %v, want unsupported", got)
	}

	d.Start()
	if d.IsRunning() {
		t.Fatal("Start must be a no-op outside Ready")
	}
}

func TestFrameIDsAreContiguous(t *testing.T) {
	dupl := &dxgitest.Duplication{OnAcquire: func(n int, _ uint32) dxgitest.Step {
		if n%3 == 0 {
			return dxgitest.Step{Err: dxgi.ErrWaitTimeout}
		}
		return frame(false)
	}}
	h := newHarness(t, 0, newRegistry(60), dupl)
	h.d.setState(Running)

	var last uint64
	for i := 0; i < 12; i++ {
		h.d.duplicate(16)
		f := h.d.LastFrame()
		if f.ID != last && f.ID != last+1 {
			t.Fatalf("cycle %d: id jumped from %d to %d", i, last, f.ID)
		}
		last = f.ID
	}
	if last != 8 {
		t.Fatalf("last id = %d, want 8", last)
	}
	if got := h.d.Stats().Snapshot().FramesPublished; got != 8 {
		t.Fatalf("published = %d, want 8", got)
	}
	if h.dupl.Violations() != 0 {
		t.Fatalf("acquired while holding a frame %d times", h.dupl.Violations())
	}
}

func TestFirstFrameIDIsOne(t *testing.T) {
	h := newHarness(t, 0, newRegistry(60), &dxgitest.Duplication{OnAcquire: func(int, uint32) dxgitest.Step {
		return frame(false)
	}})
	if !h.d.LastFrame().IsZero() {
		t.Fatal("no frame should be published before the first cycle")
	}
	h.d.setState(Running)
	h.d.duplicate(16)
	f := h.d.LastFrame()
	if f.ID != 1 {
		t.Fatalf("first id = %d, want 1", f.ID)
	}
	if f.Texture == nil || f.Texture.SharedHandle() == 0 {
		t.Fatal("published texture should be the shareable copy")
	}
	if h.device().Copies() != 1 || h.device().Flushes() != 1 {
		t.Fatalf("copies/flushes = %d/%d, want 1/1", h.device().Copies(), h.device().Flushes())
	}
}

func TestReleaseClearsHeldOnEveryPath(t *testing.T) {
	tests := []struct {
		name       string
		releaseErr error
		want       State
		acquires   int
	}{
		{"ok", nil, Running, 2},
		{"invalid call", dxgi.ErrInvalidCall, Running, 2},
		{"access lost", dxgi.ErrAccessLost, AccessLost, 1},
		{"other", dxgi.ErrDeviceRemoved, Unknown, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dupl := &dxgitest.Duplication{
				OnAcquire: func(int, uint32) dxgitest.Step { return frame(false) },
				OnRelease: func(int) error { return tt.releaseErr },
			}
			h := newHarness(t, 0, newRegistry(60), dupl)
			h.d.setState(Running)

			h.d.duplicate(16)
			if !h.d.FrameHeld() {
				t.Fatal("frame should be held after a successful acquire")
			}
			h.d.duplicate(16)

			if got := h.d.State(); got != tt.want {
				t.Fatalf("state = %v, want %v", got, tt.want)
			}
			if h.dupl.Acquires() != tt.acquires {
				t.Fatalf("acquires = %d, want %d", h.dupl.Acquires(), tt.acquires)
			}
			if tt.want != Running && h.d.FrameHeld() {
				t.Fatal("held flag must be cleared when release fails")
			}
			if h.dupl.Violations() != 0 {
				t.Fatal("acquired while holding a frame")
			}
		})
	}
}

func TestAcquireAccessLostStopsLoop(t *testing.T) {
	dupl := &dxgitest.Duplication{OnAcquire: func(n int, _ uint32) dxgitest.Step {
		if n == 1 {
			return frame(false)
		}
		return dxgitest.Step{Err: dxgi.ErrAccessLost}
	}}
	h := newHarness(t, 0, newRegistry(200), dupl)

	h.d.Start()
	waitFor(t, 2*time.Second, func() bool { return !h.d.IsRunning() })
	h.d.Stop()

	if got := h.d.State(); got != AccessLost {
		t.Fatalf("state = %v, want access_lost", got)
	}
	if h.dupl.Acquires() != 2 {
		t.Fatalf("acquires = %d, want 2", h.dupl.Acquires())
	}
	if h.dupl.Held() || h.d.FrameHeld() {
		t.Fatal("no frame should be held after the loop exits")
	}
	h.d.Start()
	if h.d.IsRunning() || h.d.State() != AccessLost {
		t.Fatal("engine must not reset itself to ready")
	}
}

func TestWaitTimeoutKeepsRunning(t *testing.T) {
	h := newHarness(t, 0, newRegistry(100), nil)

	h.d.Start()
	time.Sleep(80 * time.Millisecond)
	if got := h.d.State(); got != Running {
		t.Fatalf("state = %v, want running", got)
	}
	if !h.d.LastFrame().IsZero() {
		t.Fatal("timeouts must not publish frames")
	}
	h.d.Stop()

	if got := h.d.State(); got != Ready {
		t.Fatalf("state after stop = %v, want ready", got)
	}
	if h.d.Stats().Snapshot().WaitTimeouts == 0 {
		t.Fatal("timeouts should be counted")
	}
}

func TestStopLatencyBoundedByTimeout(t *testing.T) {
	// rate 10: every acquire blocks the full 100ms timeout.
	h := newHarness(t, 0, newRegistry(10), nil)

	h.d.Start()
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	h.d.Stop()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond+150*time.Millisecond {
		t.Fatalf("Stop took %v", elapsed)
	}
	if h.d.IsRunning() {
		t.Fatal("loop still running after Stop")
	}
	h.d.Stop()
}

func TestStartIsIdempotentWhileRunning(t *testing.T) {
	h := newHarness(t, 0, newRegistry(100), nil)
	h.d.Start()
	h.d.Start()
	if !h.d.IsRunning() {
		t.Fatal("engine should be running")
	}
	h.d.Stop()
	h.d.Start()
	if !h.d.IsRunning() {
		t.Fatal("engine should restart from ready")
	}
	h.d.Stop()
}

func TestPacingSleepsRemainingBudget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	reg := newRegistry(60)
	dupl := &dxgitest.Duplication{OnAcquire: func(int, uint32) dxgitest.Step {
		clock.Advance(5 * time.Millisecond)
		return frame(false)
	}}
	h := newHarness(t, 0, reg, dupl)

	var sleeps []time.Duration
	h.d.now = clock.Now
	h.d.sleep = func(d time.Duration, _ <-chan struct{}) bool {
		sleeps = append(sleeps, d)
		clock.Advance(d)
		return len(sleeps) < 3
	}
	h.d.setState(Running)
	h.d.run(make(chan struct{}))

	if len(sleeps) != 3 {
		t.Fatalf("sleeps = %v, want 3 entries", sleeps)
	}
	for i, s := range sleeps {
		if s != 11666*time.Microsecond {
			t.Errorf("sleep %d = %v, want 11.666ms", i, s)
		}
	}
	for i, timeout := range h.dupl.Timeouts() {
		if timeout != 16 {
			t.Errorf("acquire %d timeout = %d, want 16", i, timeout)
		}
	}
}

func TestPacingFollowsLiveRateAndSkipsSleepWhenOverBudget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	reg := newRegistry(60)
	stop := make(chan struct{})
	dupl := &dxgitest.Duplication{OnAcquire: func(n int, _ uint32) dxgitest.Step {
		switch n {
		case 1:
			reg.rate.Store(30)
			clock.Advance(40 * time.Millisecond)
		case 2:
			clock.Advance(40 * time.Millisecond)
			close(stop)
		}
		return frame(false)
	}}
	h := newHarness(t, 0, reg, dupl)

	slept := 0
	h.d.now = clock.Now
	h.d.sleep = func(time.Duration, <-chan struct{}) bool {
		slept++
		return true
	}
	h.d.setState(Running)
	h.d.run(stop)

	if slept != 0 {
		t.Fatalf("slept %d times, want 0 when over budget", slept)
	}
	got := h.dupl.Timeouts()
	if len(got) != 2 || got[0] != 16 || got[1] != 33 {
		t.Fatalf("timeouts = %v, want [16 33]", got)
	}
}

func TestZeroMetadataSkipsRectFetch(t *testing.T) {
	h := newHarness(t, 0, newRegistry(60), &dxgitest.Duplication{OnAcquire: func(int, uint32) dxgitest.Step {
		return frame(false)
	}})
	h.d.setState(Running)
	h.d.duplicate(16)

	if h.dupl.MoveCalls() != 0 || h.dupl.DirtyCalls() != 0 {
		t.Fatalf("rect fetch calls = %d/%d, want 0/0", h.dupl.MoveCalls(), h.dupl.DirtyCalls())
	}
	meta := h.d.LastFrame().MetaData
	if meta.MoveRectSize != 0 || meta.DirtyRectSize != 0 {
		t.Fatalf("metadata sizes = %d/%d, want 0/0", meta.MoveRectSize, meta.DirtyRectSize)
	}
}

func TestMetadataDirtyRectsFollowMoveRects(t *testing.T) {
	moves := []dxgi.MoveRect{
		{SourcePoint: dxgi.Point{X: 0, Y: 10}, DestinationRect: dxgi.Rect{Left: 0, Top: 0, Right: 100, Bottom: 50}},
		{SourcePoint: dxgi.Point{X: 5, Y: 5}, DestinationRect: dxgi.Rect{Left: 10, Top: 10, Right: 20, Bottom: 20}},
	}
	dirty := []dxgi.Rect{{Left: 1, Top: 1, Right: 2, Bottom: 2}, {Left: 3, Top: 3, Right: 9, Bottom: 9}}
	dupl := &dxgitest.Duplication{OnAcquire: func(n int, _ uint32) dxgitest.Step {
		if n == 1 {
			return dxgitest.Step{Moves: moves, Dirty: dirty}
		}
		return dxgitest.Step{Dirty: dirty[:1]}
	}}
	h := newHarness(t, 0, newRegistry(60), dupl)
	h.d.setState(Running)

	h.d.duplicate(16)
	first := h.d.LastFrame().MetaData
	if first.MoveRectSize != 2*dxgi.MoveRectSize || first.DirtyRectSize != 2*dxgi.RectSize {
		t.Fatalf("sizes = %d/%d", first.MoveRectSize, first.DirtyRectSize)
	}
	capacity := h.d.meta.buf.Size()
	if got := h.dupl.DirtyBufLen(); got != capacity-first.MoveRectSize {
		t.Fatalf("dirty buffer len = %d, want %d", got, capacity-first.MoveRectSize)
	}
	gotMoves := first.MoveRects()
	if len(gotMoves) != 2 || gotMoves[0] != moves[0] || gotMoves[1] != moves[1] {
		t.Fatalf("move rects = %+v", gotMoves)
	}
	gotDirty := first.DirtyRects()
	if len(gotDirty) != 2 || gotDirty[1] != dirty[1] {
		t.Fatalf("dirty rects = %+v", gotDirty)
	}

	h.d.duplicate(16)
	second := h.d.LastFrame().MetaData
	if second.MoveRectSize != 0 || second.DirtyRectSize != dxgi.RectSize {
		t.Fatalf("second sizes = %d/%d", second.MoveRectSize, second.DirtyRectSize)
	}
	if h.d.meta.buf.Size() < capacity {
		t.Fatal("metadata buffer shrank")
	}
	if len(first.DirtyRects()) != 2 {
		t.Fatal("published metadata must not change after the next cycle")
	}
}

func TestMetadataFetchErrorsRecordZero(t *testing.T) {
	dupl := &dxgitest.Duplication{
		OnAcquire: func(int, uint32) dxgitest.Step {
			return dxgitest.Step{
				Moves: []dxgi.MoveRect{{}},
				Dirty: []dxgi.Rect{{Right: 4, Bottom: 4}},
			}
		},
		MoveErr:  dxgi.ErrMoreData,
		DirtyErr: dxgi.ErrAccessLost,
	}
	h := newHarness(t, 0, newRegistry(60), dupl)
	h.d.setState(Running)
	h.d.duplicate(16)

	meta := h.d.LastFrame().MetaData
	if meta.MoveRectSize != 0 || meta.DirtyRectSize != 0 {
		t.Fatalf("sizes = %d/%d, want 0/0", meta.MoveRectSize, meta.DirtyRectSize)
	}
	if h.dupl.DirtyBufLen() != h.d.meta.buf.Size() {
		t.Fatal("dirty rects should start at offset 0 when move rects failed")
	}
	if got := h.d.State(); got != Running {
		t.Fatalf("metadata errors must not change state, got %v", got)
	}
}

func TestCursorOwnershipTransfers(t *testing.T) {
	reg := newRegistry(60)
	var visA, visB atomic.Bool
	a := newHarness(t, 1, reg, &dxgitest.Duplication{OnAcquire: func(int, uint32) dxgitest.Step {
		return frame(visA.Load())
	}})
	b := newHarness(t, 2, reg, &dxgitest.Duplication{OnAcquire: func(int, uint32) dxgitest.Step {
		return frame(visB.Load())
	}})
	a.d.setState(Running)
	b.d.setState(Running)

	visA.Store(true)
	a.d.duplicate(16)
	b.d.duplicate(16)
	if reg.CursorOwner() != 1 {
		t.Fatalf("owner = %d, want 1", reg.CursorOwner())
	}
	if buf, tex := reg.sink.counts(1); buf != 1 || tex != 1 {
		t.Fatalf("monitor 1 updates = %d/%d, want 1/1", buf, tex)
	}
	if buf, _ := reg.sink.counts(2); buf != 0 {
		t.Fatal("non-owner must not refresh the cursor")
	}

	visA.Store(false)
	a.d.duplicate(16)
	if buf, _ := reg.sink.counts(1); buf != 2 {
		t.Fatal("ownership persists while the cursor is hidden")
	}

	visB.Store(true)
	b.d.duplicate(16)
	a.d.duplicate(16)
	if reg.CursorOwner() != 2 {
		t.Fatalf("owner = %d, want 2", reg.CursorOwner())
	}
	if buf, _ := reg.sink.counts(1); buf != 2 {
		t.Fatal("previous owner must stop receiving cursor refreshes")
	}
	if buf, tex := reg.sink.counts(2); buf != 1 || tex != 1 {
		t.Fatalf("monitor 2 updates = %d/%d, want 1/1", buf, tex)
	}
}

func TestTextureConversionFailureSkipsPublish(t *testing.T) {
	dupl := &dxgitest.Duplication{OnAcquire: func(n int, _ uint32) dxgitest.Step {
		if n == 1 {
			return dxgitest.Step{ResourceErr: dxgi.ENoInterface}
		}
		return frame(false)
	}}
	h := newHarness(t, 0, newRegistry(60), dupl)
	h.d.setState(Running)

	h.d.duplicate(16)
	if !h.d.LastFrame().IsZero() {
		t.Fatal("aborted cycle must not publish")
	}
	if h.d.State() != Running {
		t.Fatalf("state = %v, want running", h.d.State())
	}
	h.d.duplicate(16)
	if h.d.LastFrame().ID != 1 {
		t.Fatalf("id = %d, want 1", h.d.LastFrame().ID)
	}
	if h.d.Stats().Snapshot().AbortedCycles != 1 {
		t.Fatal("aborted cycle should be counted")
	}
	if h.dupl.Violations() != 0 {
		t.Fatal("aborted frame must be released before the next acquire")
	}
}

func TestSharedTextureFailureSkipsPublish(t *testing.T) {
	h := newHarness(t, 0, newRegistry(60), &dxgitest.Duplication{OnAcquire: func(int, uint32) dxgitest.Step {
		return frame(false)
	}})
	h.device().SetCreateTextureErr(dxgi.EOutOfMemory)
	h.d.setState(Running)

	h.d.duplicate(16)
	if !h.d.LastFrame().IsZero() {
		t.Fatal("frame published without a shared texture")
	}
	if h.d.State() != Running {
		t.Fatalf("state = %v, want running", h.d.State())
	}
}

func TestCloseReleasesResources(t *testing.T) {
	h := newHarness(t, 0, newRegistry(60), &dxgitest.Duplication{OnAcquire: func(int, uint32) dxgitest.Step {
		return frame(false)
	}})
	h.d.setState(Running)
	h.d.duplicate(16)
	h.d.setState(Ready)

	h.d.Close()
	if h.dupl.Held() {
		t.Fatal("held frame should be released on close")
	}
	if !h.dupl.Released() || !h.device().Released() {
		t.Fatal("session and device should be released on close")
	}
	h.d.Start()
	if h.d.IsRunning() {
		t.Fatal("closed engine must not start")
	}
}
