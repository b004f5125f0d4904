// Package duplicator implements the per-monitor desktop capture engine.
//
// A Duplicator owns one duplication session on one output and a device
// isolated to that output's adapter. Start runs the acquire/copy/release
// protocol on a dedicated OS thread, paced to the registry's frame rate,
// and publishes each copied frame for readers on other goroutines. Platform
// failures never escape as errors; they surface as State values.
package duplicator

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/deskdupl/internal/dxgi"
	"github.com/breeze-rmm/deskdupl/internal/logging"
)

var log = logging.L("duplicator")

// CursorSink renders the shared cursor from the owning engine's data.
type CursorSink interface {
	UpdateBuffer(d *Duplicator, info dxgi.FrameInfo)
	UpdateTexture(d *Duplicator, tex dxgi.Texture)
}

// Registry is the engine's view of the monitor manager. Engines refer to
// each other only by monitor id.
type Registry interface {
	TargetFrameRate() int
	ClaimCursor(monitorID int)
	CursorOwner() int
	Cursor() CursorSink
}

// AdapterOracle reports the adapter the consuming renderer is bound to.
type AdapterOracle interface {
	RenderAdapterLUID() dxgi.LUID
}

// Options configures a Duplicator.
type Options struct {
	MonitorID int
	Adapter   dxgi.Adapter
	Output    dxgi.Output
	Registry  Registry
	// Oracle is optional; without one the adapter affinity check is skipped.
	Oracle AdapterOracle
	Logger *slog.Logger
}

// Frame is a published capture. Texture stays valid only until the next
// frame with different dimensions or format replaces the shared texture.
type Frame struct {
	ID       uint64
	Texture  dxgi.Texture
	Info     dxgi.FrameInfo
	MetaData MetaData
}

// IsZero reports whether no frame has been published.
func (f Frame) IsZero() bool {
	return f.ID == 0
}

// FrameBudget returns the pacing budget and the acquire timeout for rate.
// Rates below 1 are treated as 1.
func FrameBudget(rate int) (time.Duration, uint32) {
	if rate < 1 {
		rate = 1
	}
	return time.Duration(1_000_000/rate) * time.Microsecond, uint32(1000 / rate)
}

// Duplicator captures one monitor.
type Duplicator struct {
	id       int
	adapter  dxgi.Adapter
	output   dxgi.Output
	registry Registry
	logger   *slog.Logger

	state  atomic.Int32
	device *IsolatedDevice
	dupl   dxgi.OutputDuplication
	held   atomic.Bool
	meta   *metaData
	stats  *Stats

	frameMu sync.RWMutex
	last    Frame
	nextID  uint64

	ctlMu  sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool

	now   func() time.Time
	sleep func(d time.Duration, stop <-chan struct{}) bool
}

// New constructs an engine and opens its device and duplication session.
// The returned engine is always usable; check State for the outcome.
func New(opts Options) *Duplicator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithMonitor(log, opts.MonitorID)
	}
	d := &Duplicator{
		id:       opts.MonitorID,
		adapter:  opts.Adapter,
		output:   opts.Output,
		registry: opts.Registry,
		logger:   logger,
		meta:     newMetaData(),
		stats:    newStats(),
		now:      time.Now,
		sleep:    sleepOrStop,
	}
	d.setState(d.initialize(opts.Oracle))
	return d
}

func (d *Duplicator) initialize(oracle AdapterOracle) State {
	dev, err := NewIsolatedDevice(d.adapter)
	if err != nil {
		d.logger.Error("device initialization failed", "error", err)
		return Unknown
	}
	d.device = dev

	state := Unknown
	if d.output != nil {
		dupl, err := d.output.DuplicateOutput(dev.Device())
		state = InitState(err)
		if err != nil {
			d.logger.Warn("DuplicateOutput failed", "state", state, "error", err)
		} else {
			d.dupl = dupl
		}
	}

	if oracle != nil {
		want := oracle.RenderAdapterLUID()
		if got := d.adapter.LUID(); !want.IsZero() && got != want {
			d.logger.Warn("monitor is on a different adapter than the renderer",
				"adapter", got, "renderAdapter", want)
			state = Unsupported
		}
	}
	return state
}

func (d *Duplicator) setState(s State) {
	prev := State(d.state.Swap(int32(s)))
	if prev != s {
		d.logger.Debug("state changed", "from", prev, "to", s)
	}
}

// State returns the current capture state.
func (d *Duplicator) State() State {
	return State(d.state.Load())
}

func (d *Duplicator) MonitorID() int { return d.id }

// IsRunning reports whether the capture loop is active.
func (d *Duplicator) IsRunning() bool { return d.State() == Running }

// IsError reports whether the engine is in an error state.
func (d *Duplicator) IsError() bool { return d.State().IsError() }

// Duplication returns the platform session, or nil if initialization failed.
func (d *Duplicator) Duplication() dxgi.OutputDuplication { return d.dupl }

// Device returns the isolated device, or nil if it could not be created.
func (d *Duplicator) Device() *IsolatedDevice { return d.device }

// Output returns the output this engine captures.
func (d *Duplicator) Output() dxgi.Output { return d.output }

// Stats returns the engine's counters.
func (d *Duplicator) Stats() *Stats { return d.stats }

// FrameHeld reports whether a platform frame is acquired and unreleased.
func (d *Duplicator) FrameHeld() bool { return d.held.Load() }

// LastFrame returns the most recently published frame. The zero Frame means
// nothing has been published yet.
func (d *Duplicator) LastFrame() Frame {
	d.frameMu.RLock()
	defer d.frameMu.RUnlock()
	return d.last
}

// Start launches the capture loop. It does nothing unless the engine is
// Ready.
func (d *Duplicator) Start() {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()

	if d.closed || d.State() != Ready {
		return
	}
	if d.registry == nil {
		d.logger.Error("cannot start without a registry")
		return
	}
	d.stopLocked()

	d.setState(Running)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.stop, d.done)
}

// Stop ends the capture loop and waits for it to exit. It is safe to call
// from any goroutine and when nothing is running.
func (d *Duplicator) Stop() {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()
	d.stopLocked()
}

func (d *Duplicator) stopLocked() {
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.done
	d.stop, d.done = nil, nil
}

// Close stops the loop and releases the session and device.
func (d *Duplicator) Close() {
	d.ctlMu.Lock()
	defer d.ctlMu.Unlock()
	if d.closed {
		return
	}
	d.stopLocked()
	d.closed = true

	d.release()
	if d.dupl != nil {
		d.dupl.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
}

func (d *Duplicator) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer dxgi.ThreadInit()()

	d.logger.Info("capture loop started", "output", d.outputName())
	d.run(stop)
	d.release()
	if d.state.CompareAndSwap(int32(Running), int32(Ready)) {
		d.logger.Info("capture loop stopped")
	} else {
		d.logger.Warn("capture loop exited on error", "state", d.State())
	}
}

func (d *Duplicator) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		budget, timeout := FrameBudget(d.registry.TargetFrameRate())

		loopStart := d.now()
		d.duplicate(timeout)
		elapsed := d.now().Sub(loopStart)

		if d.State() != Running {
			d.stats.recordCycle(elapsed, 0)
			return
		}
		wait := budget - elapsed
		if wait <= 0 {
			d.stats.recordCycle(elapsed, 0)
			continue
		}
		d.stats.recordCycle(elapsed, wait)
		if !d.sleep(wait, stop) {
			return
		}
	}
}

// duplicate runs one acquire/copy/release cycle.
func (d *Duplicator) duplicate(timeoutMs uint32) {
	if !d.release() {
		return
	}

	info, res, err := d.dupl.AcquireNextFrame(timeoutMs)
	next, outcome := AcquireTransition(d.State(), err)
	switch outcome {
	case TimedOut:
		d.stats.recordTimeout()
		return
	case Transient:
		d.stats.recordTransient()
		d.logger.Warn("AcquireNextFrame transient failure", "error", err)
		return
	case Failed:
		d.logger.Error("AcquireNextFrame failed", "state", next, "error", err)
		d.setState(next)
		return
	}
	d.held.Store(true)
	defer res.Release()

	src, err := res.Texture()
	if err != nil {
		d.stats.recordAbort()
		d.logger.Error("acquired resource is not a texture", "error", err)
		return
	}
	defer src.Release()

	shared := d.device.CopyToShared(src)
	if shared == nil {
		d.stats.recordAbort()
		return
	}

	d.updateCursor(info, shared)
	d.meta.update(d.dupl, info, d.logger)
	d.publish(info, shared)
}

// release returns the held frame to the platform. It reports false when the
// release moved the engine into an error state.
func (d *Duplicator) release() bool {
	if !d.held.Load() || d.dupl == nil {
		return true
	}
	err := d.dupl.ReleaseFrame()
	d.held.Store(false)
	if err == nil {
		return true
	}

	cur := d.State()
	next := ReleaseTransition(cur, err)
	if next == cur {
		d.logger.Warn("ReleaseFrame failed", "error", err)
		return true
	}
	d.logger.Error("ReleaseFrame failed", "state", next, "error", err)
	d.setState(next)
	return false
}

func (d *Duplicator) updateCursor(info dxgi.FrameInfo, tex dxgi.Texture) {
	if info.PointerPosition.Visible {
		d.registry.ClaimCursor(d.id)
	}
	if d.registry.CursorOwner() != d.id {
		return
	}
	sink := d.registry.Cursor()
	if sink == nil {
		return
	}
	sink.UpdateBuffer(d, info)
	sink.UpdateTexture(d, tex)
}

func (d *Duplicator) publish(info dxgi.FrameInfo, tex dxgi.Texture) {
	meta := d.meta.snapshot()

	d.frameMu.Lock()
	d.nextID++
	d.last = Frame{
		ID:       d.nextID,
		Texture:  tex,
		Info:     info,
		MetaData: meta,
	}
	d.frameMu.Unlock()

	d.stats.recordPublish()
}

func (d *Duplicator) outputName() string {
	if d.output == nil {
		return ""
	}
	return d.output.Desc().DeviceName
}

// sleepOrStop sleeps for dur and reports false if stop closed first.
func sleepOrStop(dur time.Duration, stop <-chan struct{}) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}
