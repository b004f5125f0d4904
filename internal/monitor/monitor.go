// Package monitor owns the set of captured monitors. The Manager enumerates
// outputs, builds one capture engine per monitor, and acts as the engines'
// shared registry for frame rate and cursor ownership.
package monitor

import (
	"errors"
	"image"
	"log/slog"
	"sync/atomic"

	"github.com/breeze-rmm/deskdupl/internal/duplicator"
	"github.com/breeze-rmm/deskdupl/internal/dxgi"
)

var (
	// ErrGetPixelsDisabled is returned by GetPixels until UseGetPixels(true).
	ErrGetPixelsDisabled = errors.New("pixel reads are not enabled for this monitor")
	// ErrNoFrame is returned by GetPixels before the first frame is published.
	ErrNoFrame = errors.New("no frame captured yet")
)

// Info describes a monitor for status output.
type Info struct {
	ID        int    `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Adapter   string `json:"adapter" yaml:"adapter"`
	LUID      string `json:"luid" yaml:"luid"`
	Width     int    `json:"width" yaml:"width"`
	Height    int    `json:"height" yaml:"height"`
	X         int    `json:"x" yaml:"x"`
	Y         int    `json:"y" yaml:"y"`
	Rotation  int    `json:"rotation" yaml:"rotation"`
	IsPrimary bool   `json:"isPrimary" yaml:"isPrimary"`
	DPIX      int    `json:"dpiX" yaml:"dpiX"`
	DPIY      int    `json:"dpiY" yaml:"dpiY"`
	State     string `json:"state" yaml:"state"`
}

// Monitor is one display output and the engine capturing it.
type Monitor struct {
	id      int
	adapter dxgi.Adapter
	output  dxgi.Output
	desc    dxgi.OutputDesc
	dup     *duplicator.Duplicator

	rendered     atomic.Uint64
	useGetPixels atomic.Bool
}

func newMonitor(id int, ao dxgi.AdapterOutput, reg duplicator.Registry, oracle duplicator.AdapterOracle, logger *slog.Logger) *Monitor {
	m := &Monitor{
		id:      id,
		adapter: ao.Adapter,
		output:  ao.Output,
		desc:    ao.Output.Desc(),
	}
	m.dup = duplicator.New(duplicator.Options{
		MonitorID: id,
		Adapter:   ao.Adapter,
		Output:    ao.Output,
		Registry:  reg,
		Oracle:    oracle,
		Logger:    logger,
	})
	return m
}

func (m *Monitor) ID() int           { return m.id }
func (m *Monitor) Name() string      { return m.desc.DeviceName }
func (m *Monitor) Left() int         { return int(m.desc.DesktopCoordinates.Left) }
func (m *Monitor) Top() int          { return int(m.desc.DesktopCoordinates.Top) }
func (m *Monitor) Right() int        { return int(m.desc.DesktopCoordinates.Right) }
func (m *Monitor) Bottom() int       { return int(m.desc.DesktopCoordinates.Bottom) }
func (m *Monitor) Width() int        { return int(m.desc.DesktopCoordinates.Width()) }
func (m *Monitor) Height() int       { return int(m.desc.DesktopCoordinates.Height()) }

func (m *Monitor) Rotation() dxgi.Rotation { return m.desc.Rotation }

// IsPrimary reports whether the monitor sits at the desktop origin.
func (m *Monitor) IsPrimary() bool {
	return m.desc.DesktopCoordinates.Left == 0 && m.desc.DesktopCoordinates.Top == 0
}

// DPI returns the monitor's effective DPI, falling back to 96 when the
// platform did not report one.
func (m *Monitor) DPI() (x, y int) {
	x, y = int(m.desc.DPI.X), int(m.desc.DPI.Y)
	if x <= 0 || y <= 0 {
		return dxgi.DefaultDPI, dxgi.DefaultDPI
	}
	return x, y
}

func (m *Monitor) AdapterLUID() dxgi.LUID { return m.adapter.LUID() }

// Duplicator returns the monitor's capture engine.
func (m *Monitor) Duplicator() *duplicator.Duplicator { return m.dup }

func (m *Monitor) State() duplicator.State { return m.dup.State() }
func (m *Monitor) Start()                  { m.dup.Start() }
func (m *Monitor) Stop()                   { m.dup.Stop() }

// LastFrame returns the latest published frame.
func (m *Monitor) LastFrame() duplicator.Frame { return m.dup.LastFrame() }

// HasBeenUpdated reports whether a frame newer than the last rendered one
// has been published.
func (m *Monitor) HasBeenUpdated() bool {
	f := m.dup.LastFrame()
	return !f.IsZero() && f.ID != m.rendered.Load()
}

// Render returns the latest frame and true if it differs from the frame
// returned by the previous Render call.
func (m *Monitor) Render() (duplicator.Frame, bool) {
	f := m.dup.LastFrame()
	if f.IsZero() {
		return f, false
	}
	prev := m.rendered.Swap(f.ID)
	return f, prev != f.ID
}

// UseGetPixels enables or disables CPU pixel reads. Reads cost a GPU to CPU
// copy, so they are off until a consumer asks for them.
func (m *Monitor) UseGetPixels(use bool) { m.useGetPixels.Store(use) }

func (m *Monitor) UsesGetPixels() bool { return m.useGetPixels.Load() }

// GetPixels returns the w x h region at (x, y) of the latest frame as RGBA.
// Coordinates are relative to the monitor's top-left corner.
func (m *Monitor) GetPixels(x, y, w, h int) (*image.RGBA, error) {
	if !m.useGetPixels.Load() {
		return nil, ErrGetPixelsDisabled
	}
	if m.dup.LastFrame().IsZero() {
		return nil, ErrNoFrame
	}
	dev := m.dup.Device()
	if dev == nil {
		return nil, ErrNoFrame
	}
	return dev.ReadPixels(image.Rect(x, y, x+w, y+h))
}

// Info returns a status description of the monitor.
func (m *Monitor) Info() Info {
	dpiX, dpiY := m.DPI()
	return Info{
		ID:        m.id,
		Name:      m.Name(),
		Adapter:   m.adapter.Name(),
		LUID:      m.AdapterLUID().String(),
		Width:     m.Width(),
		Height:    m.Height(),
		X:         m.Left(),
		Y:         m.Top(),
		Rotation:  m.desc.Rotation.Degrees(),
		IsPrimary: m.IsPrimary(),
		DPIX:      dpiX,
		DPIY:      dpiY,
		State:     m.State().String(),
	}
}

// Close stops capture and releases the engine's resources. The adapter and
// output belong to the manager.
func (m *Monitor) Close() {
	m.dup.Close()
}
