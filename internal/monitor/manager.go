package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/deskdupl/internal/duplicator"
	"github.com/breeze-rmm/deskdupl/internal/dxgi"
	"github.com/breeze-rmm/deskdupl/internal/health"
	"github.com/breeze-rmm/deskdupl/internal/logging"
	"github.com/breeze-rmm/deskdupl/internal/workerpool"
)

var log = logging.L("monitor")

// ErrNoMonitors is returned when enumeration finds no monitor to capture.
var ErrNoMonitors = errors.New("no monitors to capture")

var errClosed = errors.New("monitor manager closed")

const shutdownTimeout = 5 * time.Second

// Options configures a Manager.
type Options struct {
	FrameRate int
	// RenderAdapter is the adapter the consuming renderer uses. The zero
	// LUID selects the first enumerated adapter.
	RenderAdapter dxgi.LUID
	// Captures selects the monitor ids to capture. Nil captures all.
	Captures func(id int) bool
	Workers  int
	// Enumerate lists outputs; defaults to dxgi.EnumOutputs.
	Enumerate func() ([]dxgi.AdapterOutput, error)
	Health    *health.Monitor
}

// Manager owns every monitor and is the registry their engines share.
type Manager struct {
	opts      Options
	sessionID string
	logger    *slog.Logger
	health    *health.Monitor
	pool      *workerpool.Pool
	cursor    *Cursor

	frameRate   atomic.Int32
	cursorOwner atomic.Int32
	renderLUID  atomic.Pointer[dxgi.LUID]

	mu         sync.RWMutex
	monitors   []*Monitor
	enumerated []dxgi.AdapterOutput
	closed     bool
}

func NewManager(opts Options) *Manager {
	if opts.Enumerate == nil {
		opts.Enumerate = dxgi.EnumOutputs
	}
	if opts.Health == nil {
		opts.Health = health.NewMonitor()
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}

	sessionID := uuid.NewString()
	m := &Manager{
		opts:      opts,
		sessionID: sessionID,
		logger:    logging.WithSession(log, sessionID),
		health:    opts.Health,
		pool:      workerpool.New(opts.Workers, opts.Workers*4),
		cursor:    NewCursor(),
	}
	m.SetFrameRate(opts.FrameRate)
	m.cursorOwner.Store(-1)
	return m
}

// SessionID identifies this manager's lifetime in logs.
func (m *Manager) SessionID() string { return m.sessionID }

// Health returns the health monitor the manager reports into.
func (m *Manager) Health() *health.Monitor { return m.health }

// SetFrameRate changes the target rate for every engine. Running engines
// pick it up on their next cycle.
func (m *Manager) SetFrameRate(rate int) {
	if rate < 1 {
		rate = 1
	}
	m.frameRate.Store(int32(rate))
}

func (m *Manager) TargetFrameRate() int { return int(m.frameRate.Load()) }

func (m *Manager) ClaimCursor(monitorID int) {
	if prev := m.cursorOwner.Swap(int32(monitorID)); int(prev) != monitorID {
		m.logger.Debug("cursor ownership moved", "from", prev, "to", monitorID)
	}
}

func (m *Manager) CursorOwner() int { return int(m.cursorOwner.Load()) }

func (m *Manager) Cursor() duplicator.CursorSink { return m.cursor }

// SharedCursor returns the concrete cursor for readers.
func (m *Manager) SharedCursor() *Cursor { return m.cursor }

func (m *Manager) RenderAdapterLUID() dxgi.LUID {
	if l := m.renderLUID.Load(); l != nil {
		return *l
	}
	return dxgi.LUID{}
}

// Initialize enumerates outputs and builds one monitor per attached output.
// Monitor ids follow enumeration order and stay stable when the monitors
// filter skips some of them.
func (m *Manager) Initialize() error {
	m.mu.RLock()
	closed, initialized := m.closed, len(m.monitors) > 0
	m.mu.RUnlock()
	if closed {
		return errClosed
	}
	if initialized {
		return errors.New("monitor manager already initialized")
	}

	start := time.Now()
	outputs, err := m.opts.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerate outputs: %w", err)
	}
	if len(outputs) == 0 {
		return ErrNoMonitors
	}

	luid := m.opts.RenderAdapter
	if luid.IsZero() {
		luid = outputs[0].Adapter.LUID()
	}
	m.renderLUID.Store(&luid)

	built := make([]*Monitor, len(outputs))
	var tasks []workerpool.Task
	for i, ao := range outputs {
		if !m.selected(i) {
			continue
		}
		i, ao := i, ao
		tasks = append(tasks, func() {
			built[i] = newMonitor(i, ao, m, m, logging.WithMonitor(m.logger, i))
		})
	}
	m.pool.Run(tasks...)

	var monitors []*Monitor
	for _, mon := range built {
		if mon != nil {
			monitors = append(monitors, mon)
		}
	}
	if len(monitors) == 0 {
		releaseOutputs(outputs)
		return ErrNoMonitors
	}

	m.mu.Lock()
	m.monitors = monitors
	m.enumerated = outputs
	m.mu.Unlock()

	m.RefreshHealth()
	m.logger.Info("monitors initialized",
		"count", len(monitors),
		"outputs", len(outputs),
		"renderAdapter", luid,
		logging.KeyDurationMs, time.Since(start).Milliseconds())
	return nil
}

func (m *Manager) selected(id int) bool {
	return m.opts.Captures == nil || m.opts.Captures(id)
}

// Monitors returns the current monitors in id order.
func (m *Manager) Monitors() []*Monitor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Monitor(nil), m.monitors...)
}

// Monitor returns the monitor with the given id.
func (m *Manager) Monitor(id int) (*Monitor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mon := range m.monitors {
		if mon.ID() == id {
			return mon, true
		}
	}
	return nil, false
}

// StartAll starts every ready monitor and waits until each Start returns.
func (m *Manager) StartAll() {
	m.each(func(mon *Monitor) { mon.Start() })
	m.RefreshHealth()
}

// StopAll stops every monitor and waits for their loops to exit.
func (m *Manager) StopAll() {
	m.each(func(mon *Monitor) { mon.Stop() })
	m.RefreshHealth()
}

func (m *Manager) each(fn func(*Monitor)) {
	monitors := m.Monitors()
	tasks := make([]workerpool.Task, 0, len(monitors))
	for _, mon := range monitors {
		mon := mon
		tasks = append(tasks, func() { fn(mon) })
	}
	m.pool.Run(tasks...)
}

// NeedsReinitialize reports whether any monitor is in a state that only a
// fresh session can clear.
func (m *Manager) NeedsReinitialize() bool {
	for _, mon := range m.Monitors() {
		if mon.State().Class() == duplicator.ClassRecoverable {
			return true
		}
	}
	return false
}

// Reinitialize tears every monitor down and enumerates again. Monitors are
// left stopped.
func (m *Manager) Reinitialize() error {
	m.logger.Info("reinitializing monitors")
	m.teardown()
	m.cursorOwner.Store(-1)
	return m.Initialize()
}

// RefreshHealth records each monitor's capture state in the health monitor.
func (m *Manager) RefreshHealth() {
	for _, mon := range m.Monitors() {
		st := mon.State()
		m.health.Update(health.MonitorComponent(mon.ID()), health.CaptureStatus(st), st.String())
	}
}

// Close stops and releases every monitor and shuts the worker pool down.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.teardown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	m.pool.Shutdown(ctx)
}

func (m *Manager) teardown() {
	m.each(func(mon *Monitor) { mon.Close() })

	m.mu.Lock()
	monitors, outputs := m.monitors, m.enumerated
	m.monitors, m.enumerated = nil, nil
	m.mu.Unlock()

	for _, mon := range monitors {
		m.health.Remove(health.MonitorComponent(mon.ID()))
	}
	releaseOutputs(outputs)
}

type releaser interface{ Release() }

// releaseOutputs releases every output and each distinct adapter once;
// adapters are shared by all of their outputs.
func releaseOutputs(outputs []dxgi.AdapterOutput) {
	seen := make(map[dxgi.Adapter]bool)
	for _, ao := range outputs {
		if r, ok := ao.Output.(releaser); ok {
			r.Release()
		}
		if ao.Adapter == nil || seen[ao.Adapter] {
			continue
		}
		seen[ao.Adapter] = true
		if r, ok := ao.Adapter.(releaser); ok {
			r.Release()
		}
	}
}
